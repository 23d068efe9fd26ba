package api

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDuration_MarshalJSON(t *testing.T) {
	d := Duration{Duration: 45 * time.Second}
	b, err := d.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	want := `"45s"`
	if string(b) != want {
		t.Errorf("MarshalJSON() = %s, want %s", b, want)
	}
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{`"45s"`, 45 * time.Second, false},  // lua execution ceiling
		{`"5s"`, 5 * time.Second, false},    // sql query budget
		{`"250ms"`, 250 * time.Millisecond, false},
		{`"2m"`, 2 * time.Minute, false},
		{`"forever"`, 0, true},
		{`45`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var d Duration
			err := json.Unmarshal([]byte(tt.input), &d)
			if (err != nil) != tt.wantErr {
				t.Errorf("UnmarshalJSON(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && d.Duration != tt.want {
				t.Errorf("UnmarshalJSON(%s) = %s, want %s", tt.input, d.Duration, tt.want)
			}
		})
	}
}

func TestExecuteRequest_OptionsTimeout(t *testing.T) {
	payload := `{"code":"print(1)","language":"lua","options":{"timeout":"10s"}}`

	var req ExecuteRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		t.Fatal(err)
	}
	if req.Options.Timeout.Duration != 10*time.Second {
		t.Errorf("options.timeout = %s, want 10s", req.Options.Timeout.Duration)
	}

	b, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	var decoded ExecuteRequest
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Options.Timeout.Duration != req.Options.Timeout.Duration {
		t.Errorf("round trip: got %s, want %s", decoded.Options.Timeout.Duration, req.Options.Timeout.Duration)
	}
}
