package protocol

// ColumnDef is the decoded shape of a column-definition packet in the
// "read columns" phase of a result set.
type ColumnDef struct {
	Catalog      string
	Schema       string
	Table        string
	OrgTable     string
	Name         string
	OrgName      string
	CharacterSet uint16
	ColumnLength uint32
	Type         uint8
	Flags        uint16
	Decimals     uint8
}

// DecodeColumnDef parses a column-definition packet payload (CLIENT_PROTOCOL_41
// shape: six length-encoded strings followed by fixed-width metadata).
func DecodeColumnDef(payload []byte) ColumnDef {
	r := NewReader(payload)
	var c ColumnDef
	c.Catalog = r.LenencString()
	c.Schema = r.LenencString()
	c.Table = r.LenencString()
	c.OrgTable = r.LenencString()
	c.Name = r.LenencString()
	c.OrgName = r.LenencString()
	r.Skip(1) // length of fixed-length fields, always 0x0c
	c.CharacterSet = r.Uint16()
	c.ColumnLength = r.Uint32()
	c.Type = r.Uint8()
	c.Flags = r.Uint16()
	c.Decimals = r.Uint8()
	r.Skip(2) // filler, always 0x0000
	return c
}
