package main

import "github.com/antsmallant/luasampler"

// cliHooks is a minimal luasampler.Hooks implementation for the demo
// driver: the wazero adapter delivers events directly rather than through
// a host SetHook call, so this only needs to satisfy the interface, not
// actually dispatch anything.
type cliHooks struct{}

func newCLIHooks() *cliHooks { return &cliHooks{} }

func (h *cliHooks) Coroutines() []luasampler.Coroutine { return nil }
func (h *cliHooks) SetHook(co luasampler.Coroutine, fn func(luasampler.CallInfo)) {}
