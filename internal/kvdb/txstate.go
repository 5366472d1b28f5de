package kvdb

// TxState is the transaction state of one Connection.
type TxState int

const (
	// Idle means no transaction is open.
	Idle TxState = iota

	// ReadActive means a read transaction is open.
	ReadActive

	// WriteActive means a write transaction is open and the pool write
	// lock is held.
	WriteActive
)

func (s TxState) String() string {
	switch s {
	case Idle:
		return "idle"
	case ReadActive:
		return "read_active"
	case WriteActive:
		return "write_active"
	default:
		return "unknown"
	}
}
