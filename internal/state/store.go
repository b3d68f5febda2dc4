package state

// Store owns the lifecycle of client records, block entries and whitelist
// entries. All writes go through it; the guard engine reads snapshots and
// commits mutations back via UpdateRecord, which is atomic per client.
type Store interface {
	GetRecord(clientID string) (*ClientRecord, error)
	UpdateRecord(clientID string, fn func(rec *ClientRecord) error) (*ClientRecord, error)
	DeleteRecord(clientID string) error
	ListRecords() ([]*ClientRecord, error)

	GetBlock(clientID string) (*BlockEntry, error)
	PutBlock(entry *BlockEntry) error
	DeleteBlock(clientID string) error
	ListBlocks() ([]*BlockEntry, error)

	GetWhitelist(clientID string) (*WhitelistEntry, error)
	PutWhitelist(entry *WhitelistEntry) error
	DeleteWhitelist(clientID string) error
	ListWhitelist() ([]*WhitelistEntry, error)

	Stats() map[string]interface{}
	Close() error
}

const (
	recordPrefix    = "record:"
	blockPrefix     = "block:"
	whitelistPrefix = "whitelist:"
)

func recordKey(clientID string) []byte    { return []byte(recordPrefix + clientID) }
func blockKey(clientID string) []byte     { return []byte(blockPrefix + clientID) }
func whitelistKey(clientID string) []byte { return []byte(whitelistPrefix + clientID) }
