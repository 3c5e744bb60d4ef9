package probe

import (
	"errors"
	"os/user"
	"time"

	"github.com/converge-sh/converge/internal/errdefs"
)

// SystemUserProbe checks the local user database.
type SystemUserProbe struct{}

// UserLookup is patchable for tests.
var UserLookup = user.Lookup

func (SystemUserProbe) Exists(name string) (Observation, error) {
	obs := Observation{CheckedAt: time.Now()}
	u, err := UserLookup(name)
	if err != nil {
		var unknown user.UnknownUserError
		if errors.As(err, &unknown) {
			return obs, nil
		}
		// Anything else (unreadable or corrupt user database) is a
		// probe failure, not an absent user.
		return obs, errdefs.Wrap(errdefs.ProbeFailure, name, err)
	}
	obs.Present = true
	obs.Digest = "uid:" + u.Uid
	return obs, nil
}
