package models

type Identifier interface {
	GetId() int
}

// interface for dataloader result
type Data interface {
	Identifier
}

func (s Site) GetId() int {
	return s.ID
}

func (l Location) GetId() int {
	return l.ID
}

func (m Material) GetId() int {
	return m.ID
}

func (p PlanningRow) GetId() int {
	return p.ID
}

func (r ReceiptRow) GetId() int {
	return r.ID
}

func (a AllocationRow) GetId() int {
	return a.ID
}
