package shp

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/jonas-p/go-shp"
)

// attributeTable reads the records of a .dbf file as they are stored.
// go-shp trims the blanks around a value, which would change character fields.
type attributeTable struct {
	file         *os.File
	headerLength int64
	recordLength int64
	offsets      []int
	sizes        []int
	record       []byte
}

func openAttributeTable(path string, fields []shp.Field) (*attributeTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var header [12]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("reading the header of %s: %w", path, err)
	}
	t := &attributeTable{
		file:         f,
		headerLength: int64(binary.LittleEndian.Uint16(header[8:10])),
		recordLength: int64(binary.LittleEndian.Uint16(header[10:12])),
	}
	offset := 1 // deletion flag
	for _, field := range fields {
		t.offsets = append(t.offsets, offset)
		t.sizes = append(t.sizes, int(field.Size))
		offset += int(field.Size)
	}
	if int64(offset) > t.recordLength {
		_ = f.Close()
		return nil, fmt.Errorf("%s: fields of %d bytes do not fit a record of %d bytes", path, offset, t.recordLength)
	}
	t.record = make([]byte, t.recordLength)
	return t, nil
}

// values returns the fields of record n, including their padding
func (t *attributeTable) values(n int) ([]interface{}, error) {
	if _, err := t.file.ReadAt(t.record, t.headerLength+int64(n)*t.recordLength); err != nil {
		return nil, fmt.Errorf("reading record %d of %s: %w", n, t.file.Name(), err)
	}
	values := make([]interface{}, len(t.offsets))
	for i, offset := range t.offsets {
		values[i] = string(t.record[offset : offset+t.sizes[i]])
	}
	return values, nil
}

func (t *attributeTable) Close() error {
	return t.file.Close()
}
