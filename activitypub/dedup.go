package activitypub

import "github.com/deemkeen/tusker/domain"

// Gate answers whether an activity id was already processed.
// Only outbound activities are recorded, inbound handlers guard at the domain level.
type Gate struct {
	db Database
}

func NewGate(database Database) *Gate {
	return &Gate{db: database}
}

// Lookup returns the stored record for uri, or nil
func (g *Gate) Lookup(uri string) *domain.ActivityRecord {
	if uri == "" {
		return nil
	}
	err, record := g.db.ReadActivityByURI(uri)
	if err != nil {
		return nil
	}
	return record
}

func (g *Gate) IsDuplicate(uri string) bool {
	return g.Lookup(uri) != nil
}
