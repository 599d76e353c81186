// Package codehost sandboxes invocation of operator-supplied handler source
// code. No repo in the retrieval pack demonstrates a code-sandboxing
// component directly; gopher-lua (a pure-Go Lua VM with a closed standard
// library and no access to the host process's Go runtime) is the nearest
// idiomatic fit, and is present as a transitive dependency elsewhere in the
// pack. Handlers are pure functions of (params) -> value: a Lua chunk that
// defines a global `handler(params)` function.
package codehost

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	lua "github.com/yuin/gopher-lua"
	"golang.org/x/sync/semaphore"

	"github.com/uxmcp/uxmcp/pkg/uxerr"
)

// Request is one invocation: the handler source, its declared dependency
// set, and the bound parameter values.
type Request struct {
	ExecutionID  string
	Source       string
	Dependencies []string
	Params       map[string]any
	Deadline     time.Duration
	Logf         func(level, msg string, kv ...any)
}

// Host is the bounded, sandboxed execution surface. One Host serves every
// service invocation in the process; the semaphore caps concurrent VM
// instantiation to 2*NumCPU per §5.
type Host struct {
	allowed        map[string]bool
	maxResultBytes int
	defaultDeadline time.Duration
	sem            *semaphore.Weighted
}

type Config struct {
	AllowedModules  []string
	MaxResultBytes  int
	DefaultDeadline time.Duration
	PoolSize        int // 0 => 2*NumCPU
}

func New(cfg Config) *Host {
	allowed := make(map[string]bool, len(cfg.AllowedModules))
	for _, m := range cfg.AllowedModules {
		allowed[m] = true
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = 2 * runtime.NumCPU()
	}
	maxBytes := cfg.MaxResultBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	deadline := cfg.DefaultDeadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	return &Host{
		allowed:         allowed,
		maxResultBytes:  maxBytes,
		defaultDeadline: deadline,
		sem:             semaphore.NewWeighted(int64(size)),
	}
}

// Invoke runs the handler and returns its JSON-serializable result, or a
// *uxerr.Error tagged Timeout, UndeclaredDependency, or BadResult (or
// Cancelled when ctx ends before a worker-pool slot is acquired).
func (h *Host) Invoke(ctx context.Context, req Request) (any, error) {
	for _, dep := range req.Dependencies {
		if !h.allowed[dep] {
			return nil, uxerr.New(uxerr.UndeclaredDependency, dep)
		}
	}

	deadline := req.Deadline
	if deadline <= 0 {
		deadline = h.defaultDeadline
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, uxerr.Wrap(uxerr.Cancelled, err)
	}
	defer h.sem.Release(1)

	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	result, err := h.run(runCtx, req)
	if err != nil {
		if runCtx.Err() != nil {
			return nil, uxerr.New(uxerr.Timeout, fmt.Sprintf("handler exceeded %s", deadline))
		}
		return nil, err
	}
	return result, nil
}

func (h *Host) run(ctx context.Context, req Request) (any, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(ctx)

	openSandboxedLibs(L)
	for _, dep := range req.Dependencies {
		registerModule(L, dep)
	}

	if err := L.DoString(req.Source); err != nil {
		return nil, uxerr.Wrap(uxerr.BadResult, err)
	}

	handlerFn := L.GetGlobal("handler")
	if handlerFn.Type() != lua.LTFunction {
		return nil, uxerr.New(uxerr.BadResult, "handler source must define a global `handler(params)` function")
	}

	paramsTable := goToLua(L, req.Params)

	if err := L.CallByParam(lua.P{
		Fn:      handlerFn,
		NRet:    1,
		Protect: true,
	}, paramsTable); err != nil {
		return nil, uxerr.Wrap(uxerr.BadResult, err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	goVal, err := luaToGo(ret)
	if err != nil {
		return nil, uxerr.Wrap(uxerr.BadResult, err)
	}

	encoded, err := json.Marshal(goVal)
	if err != nil {
		return nil, uxerr.Wrap(uxerr.BadResult, err)
	}
	if len(encoded) > h.maxResultBytes {
		return nil, uxerr.New(uxerr.BadResult, fmt.Sprintf("result exceeds %d byte cap", h.maxResultBytes))
	}

	return goVal, nil
}

// openSandboxedLibs loads only the base and table Lua libraries — language
// primitives every handler needs regardless of declared dependencies. No
// io, os, or package/require is ever loaded, so there is no path to the
// host filesystem or process short of an explicitly declared module.
func openSandboxedLibs(L *lua.LState) {
	for _, pair := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
	} {
		L.Push(L.NewFunction(pair.fn))
		L.Push(lua.LString(pair.name))
		L.Call(1, 0)
	}
}
