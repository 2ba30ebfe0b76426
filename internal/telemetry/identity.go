package telemetry

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"
)

// Identity carries the fake cloud identifiers printed in report footers
type Identity struct {
	MinerID    string
	InstanceID string
	AccountID  string
	AppID      string
	BuildID    string
}

func shortHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NewIdentity generates a fresh set of identifiers. The account id comes
// from r so seeded runs print a stable account.
func NewIdentity(r *rand.Rand) Identity {
	return Identity{
		MinerID:    uuid.NewString(),
		InstanceID: "i-" + shortHex(),
		AccountID:  fmt.Sprintf("%d", 100000000000+r.Int63n(900000000000)),
		AppID:      "d" + shortHex(),
		BuildID:    shortHex(),
	}
}

// NextBuild returns a copy with a new build id
func (id Identity) NextBuild() Identity {
	id.BuildID = shortHex()
	return id
}

// AmplifyDomain is the fake deployment host for the current build
func (id Identity) AmplifyDomain() string {
	return id.BuildID + ".amplifyapp.com"
}

// AmplifyFooter is the footer used by build pipeline reports
func (id Identity) AmplifyFooter() string {
	return fmt.Sprintf("App: %s | Build: %s | Instance: %s", id.AppID, id.BuildID, id.InstanceID)
}

// MinerFooter is the footer used by miner reports; detailed reports add the account
func (id Identity) MinerFooter(detailed bool) string {
	short := id.MinerID[:min(8, len(id.MinerID))]
	if detailed {
		return fmt.Sprintf("Instance: %s | Account: %s | ID: %s", id.InstanceID, id.AccountID, short)
	}
	return fmt.Sprintf("Instance: %s | ID: %s", id.InstanceID, short)
}
