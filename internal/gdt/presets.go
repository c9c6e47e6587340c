package gdt

// FlatCode is a 4 GiB protected-mode code segment at privilege p.
func FlatCode(p Privilege) Descriptor {
	return Descriptor{
		Limit:       MaxLimit,
		ReadWrite:   true,
		Executable:  true,
		Privilege:   p,
		Granularity: GranularityPage,
		Mode:        ModeProtected,
	}
}

// FlatData is a 4 GiB protected-mode read/write data segment at privilege p.
func FlatData(p Privilege) Descriptor {
	return Descriptor{
		Limit:       MaxLimit,
		ReadWrite:   true,
		Privilege:   p,
		Granularity: GranularityPage,
		Mode:        ModeProtected,
	}
}

// UserCode is an execute-only conforming code segment for ring 3.
func UserCode() Descriptor {
	d := FlatCode(PrivilegeUser)
	d.ReadWrite = false
	d.Conforming = true
	return d
}

// UserData is a ring 3 data segment.
func UserData() Descriptor {
	return FlatData(PrivilegeUser)
}
