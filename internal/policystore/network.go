package policystore

// NetworkEntry is an immutable record of one subscriber network, loaded at
// startup from user_network and never mutated afterward (§3).
type NetworkEntry struct {
	ObjectID   uint64
	OwnerID    uint64
	NetAddress string
}

// NetworkTable is a string-keyed lookup of NetworkEntry by dotted-quad
// address. Built once at startup; safe for lock-free concurrent reads.
type NetworkTable struct {
	entries map[string]NetworkEntry
}

// LoadNetworkRoster runs the startup roster query (§6.1) and builds the
// network hash table.
func (s *Store) LoadNetworkRoster() (*NetworkTable, error) {
	const query = `SELECT object_id, owner_id, net_address FROM user_network`
	s.logQuery(query)

	rows, err := s.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make(map[string]NetworkEntry)
	for rows.Next() {
		var e NetworkEntry
		if err := rows.Scan(&e.ObjectID, &e.OwnerID, &e.NetAddress); err != nil {
			return nil, err
		}
		entries[e.NetAddress] = e
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &NetworkTable{entries: entries}, nil
}

// Lookup returns the NetworkEntry for a dotted-quad address, if any.
func (t *NetworkTable) Lookup(addr string) (NetworkEntry, bool) {
	e, ok := t.entries[addr]
	return e, ok
}

// Len returns the number of loaded network entries.
func (t *NetworkTable) Len() int { return len(t.entries) }
