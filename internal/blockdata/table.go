package blockdata

import "fmt"

// Table is a logical table. Every table is held by exactly one backend.
type Table uint8

const (
	Misc Table = iota
	Blocks
	Transactions
	EpochNumbers
)

// AllTables lists every table in a stable order.
var AllTables = []Table{Misc, Blocks, Transactions, EpochNumbers}

func (t Table) String() string {
	switch t {
	case Misc:
		return "misc"
	case Blocks:
		return "blocks"
	case Transactions:
		return "transactions"
	case EpochNumbers:
		return "epoch_numbers"
	default:
		return fmt.Sprintf("Table(%d)", uint8(t))
	}
}

// ParseTable returns the table with the given configuration name.
func ParseTable(name string) (Table, error) {
	for _, t := range AllTables {
		if t.String() == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown table %q", name)
}
