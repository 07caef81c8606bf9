package model

// Category is a ledger budgeting category. The engine never creates
// categories; the set is owned by the ledger and read through its adapter.
type Category struct {
	Name        string
	Description string
}
