package scripting

import lua "github.com/yuin/gopher-lua"

// registerModules registers the engine.* Lua table into L.
//
// Exposed functions:
//   - engine.narrate(msg)      -> forwards msg to the Narrate callback
//   - engine.combatant(id)     -> table {id, name, npc, initiative, conditions} or nil
//   - engine.round()           -> current round number, or 0 with no callback
func (m *Manager) registerModules(L *lua.LState) {
	engine := L.NewTable()

	L.SetField(engine, "narrate", L.NewFunction(func(L *lua.LState) int {
		msg := L.CheckString(1)
		if m.Narrate != nil {
			m.Narrate(msg)
		}
		return 0
	}))

	L.SetField(engine, "combatant", L.NewFunction(func(L *lua.LState) int {
		id := L.CheckString(1)
		if m.GetCombatant == nil {
			L.Push(lua.LNil)
			return 1
		}
		info := m.GetCombatant(id)
		if info == nil {
			L.Push(lua.LNil)
			return 1
		}
		tbl := L.NewTable()
		L.SetField(tbl, "id", lua.LString(info.ID))
		L.SetField(tbl, "name", lua.LString(info.Name))
		L.SetField(tbl, "npc", lua.LBool(info.NPC))
		L.SetField(tbl, "initiative", lua.LNumber(info.Initiative))
		conds := L.NewTable()
		for _, c := range info.Conditions {
			conds.Append(lua.LString(c))
		}
		L.SetField(tbl, "conditions", conds)
		L.Push(tbl)
		return 1
	}))

	L.SetField(engine, "round", L.NewFunction(func(L *lua.LState) int {
		if m.ActiveRound == nil {
			L.Push(lua.LNumber(0))
			return 1
		}
		L.Push(lua.LNumber(m.ActiveRound()))
		return 1
	}))

	L.SetGlobal("engine", engine)
}
