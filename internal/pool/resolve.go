package pool

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/quern/quern/internal/errs"
	"github.com/quern/quern/internal/filelock"
	"github.com/quern/quern/internal/models"
)

// claimTokenLifetime bounds how long a claim token itself verifies for;
// the pool's stale-claim sweep is what actually reclaims the device, this
// is just a ceiling on the token's own validity.
const claimTokenLifetime = 24 * time.Hour

// Resolution is the outcome of a successful resolve or ensure call.
type Resolution struct {
	Device  models.Device
	Token   string
	Claimed bool
}

// Resolve implements the resolution protocol of spec §4.7: refresh the
// live device list, apply the opportunistic stale-claim sweep, find and
// rank matching candidates, optionally auto-boot and optionally wait for
// one to free up, then atomically claim the winner under a single lock
// acquisition.
func (p *Pool) Resolve(ctx context.Context, c Criteria) (*Resolution, error) {
	if err := p.cleanupStale(); err != nil {
		return nil, errs.Internal("stale-claim cleanup failed", err)
	}

	if c.UDID != "" {
		return p.resolveExplicit(ctx, c)
	}

	deadline := time.Now().Add(c.WaitTimeout)
	for {
		pf, err := p.refresh(ctx, true)
		if err != nil {
			return nil, errs.Internal("pool refresh failed", err)
		}

		candidates := filterDevices(pf.Devices, func(d models.Device) bool {
			return matchesCriteria(d, c)
		})
		rankCandidates(candidates)

		if len(candidates) > 0 {
			return p.claim(candidates[0], c.SessionID)
		}

		if c.AutoBoot {
			if booted, err := p.tryAutoBoot(ctx, pf.Devices, c); err != nil {
				return nil, err
			} else if booted != nil {
				return p.claim(*booted, c.SessionID)
			}
		}

		if !c.WaitIfBusy || time.Now().After(deadline) {
			return nil, diagnosticError(pf.Devices, c)
		}

		sleep := waitPollInterval
		if remaining := time.Until(deadline); remaining < sleep {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			return nil, errs.Timeout("resolve cancelled while waiting for an available device")
		case <-time.After(sleep):
		}
	}
}

// resolveExplicit handles the c.UDID != "" branch: exact-UDID lookup,
// claimed-by-someone-else or not-found are both surfaced distinctly per
// spec §4.7.
func (p *Pool) resolveExplicit(ctx context.Context, c Criteria) (*Resolution, error) {
	pf, err := p.refresh(ctx, true)
	if err != nil {
		return nil, errs.Internal("pool refresh failed", err)
	}
	for _, d := range pf.Devices {
		if d.UDID == c.UDID {
			if d.ClaimStatus == models.ClaimClaimed && d.ClaimedBy != c.SessionID {
				return nil, errs.Conflict("device is already claimed").
					WithDetails("udid", d.UDID).WithDetails("claimed_by", d.ClaimedBy)
			}
			if d.State != models.StateBooted && c.AutoBoot {
				if err := p.source.Boot(ctx, d.UDID); err != nil {
					return nil, errs.Wrap(errs.CodeSubprocessFailed, 500, "boot failed", err)
				}
				d.State = models.StateBooted
			}
			return p.claim(d, c.SessionID)
		}
	}
	return nil, errs.NotFound("device", c.UDID)
}

// tryAutoBoot boots the best shutdown candidate and polls until it
// reports booted, per spec §4.7's 500ms/30s auto-boot window.
func (p *Pool) tryAutoBoot(ctx context.Context, all []models.Device, c Criteria) (*models.Device, error) {
	shutdownCandidates := filterDevices(all, func(d models.Device) bool {
		if d.State == models.StateBooted {
			return false
		}
		return matchesCriteria(withState(d, models.StateBooted), c)
	})
	rankCandidates(shutdownCandidates)
	if len(shutdownCandidates) == 0 {
		return nil, nil
	}

	target := shutdownCandidates[0]
	if err := p.source.Boot(ctx, target.UDID); err != nil {
		return nil, errs.Wrap(errs.CodeSubprocessFailed, 500, "boot failed", err)
	}

	deadline := time.Now().Add(autoBootTimeout)
	for time.Now().Before(deadline) {
		pf, err := p.refresh(ctx, true)
		if err != nil {
			return nil, errs.Internal("pool refresh failed", err)
		}
		for _, d := range pf.Devices {
			if d.UDID == target.UDID && d.State == models.StateBooted {
				return &d, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, errs.Timeout("boot cancelled")
		case <-time.After(autoBootPollInterval):
		}
	}
	return nil, errs.Timeout("device did not finish booting within the auto-boot window").
		WithDetails("udid", target.UDID)
}

func withState(d models.Device, s models.DeviceState) models.Device {
	d.State = s
	return d
}

// claim performs the atomic resolve+claim under a single file lock:
// reload the pool file, re-verify the candidate is still available
// (another process may have raced it), mark it claimed, persist, and
// mint a session token.
func (p *Pool) claim(candidate models.Device, sessionID string) (*Resolution, error) {
	var result *Resolution
	err := withPoolLock(p, func(pf *models.PoolFile) error {
		for i := range pf.Devices {
			if pf.Devices[i].UDID != candidate.UDID {
				continue
			}
			d := &pf.Devices[i]
			if d.ClaimStatus == models.ClaimClaimed && d.ClaimedBy != sessionID {
				return errs.Conflict("device was claimed by another session before this claim completed").
					WithDetails("udid", d.UDID)
			}
			now := time.Now().UTC()
			token, err := p.signer.Issue(d.UDID, claimTokenLifetime)
			if err != nil {
				return errs.Internal("failed to issue claim token", err)
			}
			d.Claim(token, now)
			d.LastUsed = &now
			result = &Resolution{Device: *d, Token: token, Claimed: true}
			return nil
		}
		return errs.NotFound("device", candidate.UDID)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Release returns a claimed device to the pool. token must match the
// device's current claimed_by, or be empty to force-release.
func (p *Pool) Release(udid, token string) error {
	return withPoolLock(p, func(pf *models.PoolFile) error {
		for i := range pf.Devices {
			if pf.Devices[i].UDID != udid {
				continue
			}
			d := &pf.Devices[i]
			if d.ClaimStatus != models.ClaimClaimed {
				return nil
			}
			if token != "" && d.ClaimedBy != token {
				return errs.Conflict("release token does not match the current claimant").
					WithDetails("udid", udid)
			}
			d.Release()
			return nil
		}
		return errs.NotFound("device", udid)
	})
}

// EnsureN resolves count distinct devices matching c, claiming each in
// turn; on any failure it rolls back every claim already made in this
// call so callers never end up holding a partial set silently.
func (p *Pool) EnsureN(ctx context.Context, c Criteria, count int) ([]Resolution, error) {
	claimed := make([]Resolution, 0, count)
	rollback := func() {
		for _, r := range claimed {
			_ = p.Release(r.Device.UDID, r.Token)
		}
	}

	seen := make(map[string]bool)
	for len(claimed) < count {
		attempt := c
		res, err := p.Resolve(ctx, attempt)
		if err != nil {
			rollback()
			return nil, err
		}
		if seen[res.Device.UDID] {
			rollback()
			return nil, errs.Conflict("not enough distinct devices matched the given criteria").
				WithDetails("requested", count).WithDetails("matched", len(claimed))
		}
		seen[res.Device.UDID] = true
		claimed = append(claimed, *res)
	}
	return claimed, nil
}

// withPoolLock reads, mutates and writes the pool file under a single
// exclusive advisory lock acquisition, so a resolve-then-claim from two
// processes can never both observe the same available device, per spec
// §4.7's race-safety requirement.
func withPoolLock(p *Pool, fn func(pf *models.PoolFile) error) error {
	return filelock.WithExclusiveLock(p.path, func() error {
		var pf models.PoolFile
		data, err := os.ReadFile(p.path)
		switch {
		case err == nil:
			if jerr := json.Unmarshal(data, &pf); jerr != nil {
				return jerr
			}
		case os.IsNotExist(err):
			pf = models.PoolFile{Version: models.CurrentPoolFileVersion}
		default:
			return err
		}

		if err := fn(&pf); err != nil {
			return err
		}

		pf.UpdatedAt = time.Now().UTC()
		out, err := json.MarshalIndent(pf, "", "  ")
		if err != nil {
			return err
		}
		tmp := p.path + ".tmp"
		if err := os.WriteFile(tmp, out, 0600); err != nil {
			return err
		}
		return os.Rename(tmp, p.path)
	})
}
