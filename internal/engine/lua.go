package engine

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"polyglot-sandbox/internal/policy"
)

// LuaEngine runs code inside an embedded Lua interpreter. Each session owns
// its own interpreter state with a restricted standard library; states are
// reused across runs to amortize startup cost, and Cleanup clears the user's
// global bindings without tearing the interpreter down.
//
// The interpreter cannot be preempted mid-instruction. Cancellation is
// cooperative: the state carries the request context and aborts at the VM's
// safe points, backed by the controller's hard wall-clock timeout.
type LuaEngine struct {
	policies *policy.Store

	mu       sync.Mutex
	sessions map[string]*luaSession
}

type luaSession struct {
	mu       sync.Mutex
	state    *lua.LState
	baseline map[string]bool // global names present after library setup
	loaded   map[string]bool // packages already preloaded into this state
}

func NewLuaEngine(policies *policy.Store) *LuaEngine {
	return &LuaEngine{
		policies: policies,
		sessions: make(map[string]*luaSession),
	}
}

func (e *LuaEngine) Execute(ctx context.Context, req *Request) *Result {
	start := time.Now()
	pol := e.policies.Get(policy.LangLua)

	if strings.TrimSpace(req.Code) == "" {
		return failure(start, "no code to execute")
	}
	if int64(len(req.Code)) > pol.MaxCodeBytes {
		return failure(start, fmt.Sprintf("code exceeds %d byte limit", pol.MaxCodeBytes))
	}

	session := e.session(req.SessionID)
	session.mu.Lock()
	defer session.mu.Unlock()

	if missing := e.preload(session, req.Options.Packages); missing != "" {
		return failure(start, fmt.Sprintf("unknown package %q (available: %s)", missing, availablePackages()))
	}

	L := session.state
	var stdout bytes.Buffer
	var visual strings.Builder
	bindRunGlobals(L, &stdout, &visual)

	L.SetContext(ctx)
	err := L.DoString(req.Code)
	L.RemoveContext()

	result := &Result{
		Output:   truncate(stdout.String(), pol.MaxOutputBytes),
		Duration: since(start),
		Metadata: map[string]any{"interpreter": "lua"},
	}
	if visual.Len() > 0 {
		result.VisualOutput = truncate(visual.String(), pol.MaxOutputBytes)
	}

	if err != nil {
		result.Error = luaErrorMessage(err, ctx)
		return result
	}

	result.Success = true
	return result
}

// ValidateCode compiles the chunk without running it.
func (e *LuaEngine) ValidateCode(code string) bool {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	_, err := L.LoadString(code)
	return err == nil
}

// Cleanup with a session ID clears the session's user-defined globals but
// keeps the interpreter (and its resident packages) alive. An empty session
// ID closes every interpreter state.
func (e *LuaEngine) Cleanup(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sessionID == "" {
		for id, s := range e.sessions {
			s.mu.Lock()
			s.state.Close()
			s.mu.Unlock()
			delete(e.sessions, id)
		}
		return
	}

	s, ok := e.sessions[sessionID]
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var user []string
	s.state.G.Global.ForEach(func(k, _ lua.LValue) {
		name := lua.LVAsString(k)
		if !s.baseline[name] {
			user = append(user, name)
		}
	})
	for _, name := range user {
		s.state.SetGlobal(name, lua.LNil)
	}
}

func (e *LuaEngine) session(id string) *luaSession {
	if id == "" {
		id = "default"
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.sessions[id]; ok {
		return s
	}
	s := newLuaSession()
	e.sessions[id] = s
	log.Debug().Str("session_id", id).Msg("lua interpreter state created")
	return s
}

// newLuaSession builds a state with only the safe library subset: base,
// package (needed for preloading), table, string, and math. The os, io, and
// debug libraries are never opened, and the dynamic compilation entry points
// are removed from base.
func newLuaSession() *luaSession {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       128,
		RegistrySize:        1024 * 20,
		IncludeGoStackTrace: false,
	})

	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "collectgarbage"} {
		L.SetGlobal(name, lua.LNil)
	}

	baseline := make(map[string]bool)
	L.G.Global.ForEach(func(k, _ lua.LValue) {
		baseline[lua.LVAsString(k)] = true
	})
	// Run-scoped bindings are re-set per execution but count as baseline.
	baseline["print"] = true
	baseline["display"] = true

	return &luaSession{
		state:    L,
		baseline: baseline,
		loaded:   make(map[string]bool),
	}
}

// bindRunGlobals redirects print into the capture buffer and installs the
// display() builtin that scripts use to emit rich output (figures, tables)
// as embedded HTML or data-URI images.
func bindRunGlobals(L *lua.LState, stdout *bytes.Buffer, visual *strings.Builder) {
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		stdout.WriteString(strings.Join(parts, "\t"))
		stdout.WriteByte('\n')
		return 0
	}))

	L.SetGlobal("display", L.NewFunction(func(L *lua.LState) int {
		content := L.CheckString(1)
		if strings.HasPrefix(content, "data:image/") {
			visual.WriteString(`<img src="` + content + `" alt="figure">`)
		} else {
			visual.WriteString(content)
		}
		return 0
	}))
}

// preload loads requested packages that are not already resident in the
// session, tracking the resident set to avoid redundant loads. Returns the
// first unknown package name, or empty on success.
func (e *LuaEngine) preload(s *luaSession, packages []string) string {
	for _, name := range packages {
		if s.loaded[name] {
			continue
		}
		loader, ok := sandboxPackages[name]
		if !ok {
			return name
		}
		s.state.PreloadModule(name, loader)
		s.loaded[name] = true
		log.Debug().Str("package", name).Msg("lua package preloaded")
	}
	return ""
}

// luaErrorMessage surfaces the interpreter's own error class so syntax and
// runtime failures stay diagnosable, and maps cooperative cancellation onto
// the timeout contract.
func luaErrorMessage(err error, ctx context.Context) string {
	if ctx.Err() != nil {
		return "execution timed out"
	}

	if apiErr, ok := err.(*lua.ApiError); ok {
		class := "RuntimeError"
		if apiErr.Type == lua.ApiErrorSyntax {
			class = "SyntaxError"
		}
		return class + ": " + strings.TrimSpace(apiErr.Object.String())
	}
	return err.Error()
}
