package toolchain

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ruteri/eloc-provisioning/interfaces"
)

// FirstPartitionOffset is where ESP-IDF places the first partition when the table
// leaves its offset empty (the partition table itself sits at 0x8000).
const FirstPartitionOffset = 0x9000

// Partition is one row of an ESP-IDF partition table.
type Partition struct {
	Name    string
	Type    string
	SubType string
	Offset  uint64
	Size    uint64
	Flags   string
}

// PartitionTable is a parsed ESP-IDF partitions CSV in flash order.
type PartitionTable struct {
	Partitions []Partition
}

// Lookup returns the partition called name.
func (t *PartitionTable) Lookup(name string) (Partition, error) {
	for _, p := range t.Partitions {
		if p.Name == name {
			return p, nil
		}
	}
	return Partition{}, fmt.Errorf("%w: %q", interfaces.ErrPartitionNotFound, name)
}

// LoadPartitionTable parses the partitions CSV at path.
func LoadPartitionTable(path string) (*PartitionTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open partition table: %w", err)
	}
	defer f.Close()

	table, err := ParsePartitionTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

// ParsePartitionTable parses an ESP-IDF partitions CSV:
//
//	# Name,   Type, SubType, Offset,  Size, Flags
//	nvs,      data, nvs,     0x9000,  0x6000,
//	factory,  app,  factory, 0x10000, 1M,
//
// Lines starting with '#' are comments. Numbers are decimal or 0x-prefixed hex with
// an optional K or M suffix. An empty offset follows the previous partition, aligned
// to 64K for app partitions.
func ParsePartitionTable(r io.Reader) (*PartitionTable, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	table := &PartitionTable{}
	next := uint64(FirstPartitionOffset)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("invalid partition table: %w", err)
		}
		line, _ := cr.FieldPos(0)

		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}
		if len(row) < 5 {
			return nil, fmt.Errorf("invalid partition table: line %d: expected at least 5 columns, got %d", line, len(row))
		}

		p := Partition{Name: row[0], Type: row[1], SubType: row[2]}
		if len(row) > 5 {
			p.Flags = row[5]
		}

		p.Size, err = parseFlashSize(row[4])
		if err != nil {
			return nil, fmt.Errorf("invalid partition table: line %d: size: %w", line, err)
		}

		if row[3] == "" {
			p.Offset = alignUp(next, alignmentFor(p.Type))
		} else if p.Offset, err = parseFlashSize(row[3]); err != nil {
			return nil, fmt.Errorf("invalid partition table: line %d: offset: %w", line, err)
		}

		next = p.Offset + p.Size
		table.Partitions = append(table.Partitions, p)
	}

	return table, nil
}

func parseFlashSize(s string) (uint64, error) {
	if s == "" {
		return 0, errors.New("empty value")
	}

	mult := uint64(1)
	switch s[len(s)-1] {
	case 'K', 'k':
		mult = 1024
		s = s[:len(s)-1]
	case 'M', 'm':
		mult = 1024 * 1024
		s = s[:len(s)-1]
	}

	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, err
	}
	return v * mult, nil
}

func alignmentFor(partitionType string) uint64 {
	if partitionType == "app" {
		return 0x10000
	}
	return 0x4
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) / align * align
}
