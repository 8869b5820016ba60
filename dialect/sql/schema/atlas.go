package schema

import (
	"fmt"
	"strings"

	"ariga.io/atlas/sql/mysql"
	"ariga.io/atlas/sql/postgres"
	"ariga.io/atlas/sql/schema"
	"ariga.io/atlas/sql/sqlite"

	"github.com/easybib/ormresource/dialect"
	"github.com/easybib/ormresource/mapping"
)

// atlasSchema converts tables to an atlas schema of the given dialect.
func atlasSchema(dialectName, name string, tables []*Table) (*schema.Schema, error) {
	var (
		s    = schema.New(name)
		byT  = make(map[*Table]*schema.Table, len(tables))
		cols = make(map[*Column]*schema.Column)
	)
	for _, t := range tables {
		at := schema.NewTable(t.Name)
		for _, c := range t.Columns {
			ac, err := atlasColumn(dialectName, c)
			if err != nil {
				return nil, fmt.Errorf("schema: %s.%s: %w", t.Name, c.Name, err)
			}
			at.AddColumns(ac)
			cols[c] = ac
		}
		if len(t.PrimaryKey) > 0 {
			pk := make([]*schema.Column, len(t.PrimaryKey))
			for i, c := range t.PrimaryKey {
				pk[i] = cols[c]
			}
			at.SetPrimaryKey(schema.NewPrimaryKey(pk...))
		}
		for _, idx := range t.Indexes {
			ai := schema.NewIndex(idx.Name).SetUnique(idx.Unique)
			for _, c := range idx.Columns {
				ai.AddColumns(cols[c])
			}
			at.AddIndexes(ai)
		}
		s.AddTables(at)
		byT[t] = at
	}
	for _, t := range tables {
		at := byT[t]
		for _, fk := range t.ForeignKeys {
			ref, ok := byT[fk.RefTable]
			if !ok {
				return nil, fmt.Errorf("schema: %s references missing table %s", t.Name, fk.RefTable.Name)
			}
			afk := schema.NewForeignKey(fk.Symbol).SetRefTable(ref)
			for _, c := range fk.Columns {
				afk.AddColumns(cols[c])
			}
			for _, c := range fk.RefColumns {
				afk.AddRefColumns(cols[c])
			}
			if fk.OnDelete != "" {
				afk.SetOnDelete(schema.ReferenceOption(strings.ToUpper(fk.OnDelete)))
			}
			at.AddForeignKeys(afk)
		}
	}
	return s, nil
}

func atlasColumn(dialectName string, c *Column) (*schema.Column, error) {
	typ, err := atlasType(dialectName, c)
	if err != nil {
		return nil, err
	}
	ac := schema.NewColumn(c.Name).SetType(typ).SetNull(c.Nullable)
	if c.Increment {
		switch dialectName {
		case dialect.MySQL:
			ac.AddAttrs(&mysql.AutoIncrement{})
		case dialect.SQLite:
			ac.AddAttrs(&sqlite.AutoIncrement{})
		case dialect.Postgres:
			t := "serial"
			if c.Type == mapping.TypeBigInt {
				t = "bigserial"
			}
			ac.SetType(&postgres.SerialType{T: t})
		}
	}
	return ac, nil
}

// atlasType maps a mapping field type to the column type of a dialect.
func atlasType(dialectName string, c *Column) (schema.Type, error) {
	pick := func(my, pg, lite string) string {
		switch dialectName {
		case dialect.Postgres:
			return pg
		case dialect.SQLite:
			return lite
		}
		return my
	}
	switch c.Type {
	case mapping.TypeInteger:
		return &schema.IntegerType{T: pick("int", "integer", "integer")}, nil
	case mapping.TypeBigInt:
		return &schema.IntegerType{T: pick("bigint", "bigint", "integer")}, nil
	case mapping.TypeSmallInt:
		return &schema.IntegerType{T: pick("smallint", "smallint", "integer")}, nil
	case mapping.TypeString:
		size := c.Size
		if size == 0 {
			size = 255
		}
		return &schema.StringType{T: "varchar", Size: size}, nil
	case mapping.TypeText:
		return &schema.StringType{T: pick("longtext", "text", "text")}, nil
	case mapping.TypeBoolean:
		return &schema.BoolType{T: pick("bool", "boolean", "bool")}, nil
	case mapping.TypeDateTime:
		return &schema.TimeType{T: pick("datetime", "timestamp", "datetime")}, nil
	case mapping.TypeDate:
		return &schema.TimeType{T: "date"}, nil
	case mapping.TypeFloat:
		return &schema.FloatType{T: pick("double", "double precision", "real")}, nil
	case mapping.TypeDecimal:
		p, s := c.Precision, c.Scale
		if p == 0 {
			p = 10
		}
		return &schema.DecimalType{T: "decimal", Precision: p, Scale: s}, nil
	case mapping.TypeGUID:
		if dialectName == dialect.Postgres {
			return &schema.UUIDType{T: "uuid"}, nil
		}
		return &schema.StringType{T: "char", Size: 36}, nil
	}
	return nil, fmt.Errorf("unsupported type %q", c.Type)
}

// fromAtlas converts inspected atlas tables back to tables, as far as
// needed for validating a diff.
func fromAtlas(ats []*schema.Table) []*Table {
	tables := make([]*Table, 0, len(ats))
	for _, at := range ats {
		t := &Table{Name: at.Name}
		cols := make(map[*schema.Column]*Column, len(at.Columns))
		for _, ac := range at.Columns {
			c := &Column{Name: ac.Name}
			if ac.Type != nil {
				c.Nullable = ac.Type.Null
				c.Type, c.Size = fieldType(ac.Type.Type)
			}
			t.Columns = append(t.Columns, c)
			cols[ac] = c
		}
		if at.PrimaryKey != nil {
			for _, p := range at.PrimaryKey.Parts {
				if c, ok := cols[p.C]; ok {
					t.PrimaryKey = append(t.PrimaryKey, c)
				}
			}
		}
		for _, ai := range at.Indexes {
			idx := &Index{Name: ai.Name, Unique: ai.Unique}
			for _, p := range ai.Parts {
				if c, ok := cols[p.C]; ok {
					idx.Columns = append(idx.Columns, c)
					if ai.Unique && len(ai.Parts) == 1 {
						c.Unique = true
					}
				}
			}
			t.Indexes = append(t.Indexes, idx)
		}
		tables = append(tables, t)
	}
	return tables
}

func fieldType(t schema.Type) (string, int) {
	switch t := t.(type) {
	case *schema.IntegerType:
		switch strings.ToLower(t.T) {
		case "bigint":
			return mapping.TypeBigInt, 0
		case "smallint":
			return mapping.TypeSmallInt, 0
		}
		return mapping.TypeInteger, 0
	case *schema.StringType:
		if strings.Contains(strings.ToLower(t.T), "text") {
			return mapping.TypeText, 0
		}
		return mapping.TypeString, t.Size
	case *schema.BoolType:
		return mapping.TypeBoolean, 0
	case *schema.TimeType:
		if strings.ToLower(t.T) == "date" {
			return mapping.TypeDate, 0
		}
		return mapping.TypeDateTime, 0
	case *schema.FloatType:
		return mapping.TypeFloat, 0
	case *schema.DecimalType:
		return mapping.TypeDecimal, 0
	case *schema.UUIDType:
		return mapping.TypeGUID, 0
	case *postgres.SerialType:
		if t.T == "bigserial" {
			return mapping.TypeBigInt, 0
		}
		return mapping.TypeInteger, 0
	}
	return "", 0
}
