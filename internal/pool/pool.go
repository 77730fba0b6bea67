// Package pool implements Quern's device pool and resolution protocol:
// a shared JSON file (advisory-locked), refreshed periodically from the
// simulator tool, with a resolution order, candidate ranking, auto-boot,
// wait-for-available polling, ensure-N, stale-claim cleanup and
// JWT-backed claim tokens. Grounded on the claim/release/mutex shape in
// services/accountpool/pool.go (r3e-network-service_layer), generalized from a
// database-backed account pool to a file-backed device pool.
package pool

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/quern/quern/internal/errs"
	"github.com/quern/quern/internal/filelock"
	"github.com/quern/quern/internal/logging"
	"github.com/quern/quern/internal/models"
)

// staleClaimAfter releases any claim older than this on the next Resolve,
// Cleanup or cron sweep, per spec §4.7.
const staleClaimAfter = 30 * time.Minute

// refreshInterval bounds how often the pool re-queries the simulator tool
// for live device state, per spec §4.7.
const refreshInterval = 2 * time.Second

// autoBootPollInterval / autoBootTimeout govern the auto-boot poll loop.
const (
	autoBootPollInterval = 500 * time.Millisecond
	autoBootTimeout      = 30 * time.Second
)

// waitPollInterval is the wait-for-available poll cadence, per spec §4.7.
const waitPollInterval = 1 * time.Second

// Source refreshes the live device list from the underlying tool; the
// controller's simulator backend satisfies this.
type Source interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
	Boot(ctx context.Context, udid string) error
}

// Criteria narrows a resolve/ensure call, per spec §4.7.
type Criteria struct {
	UDID        string
	Name        string
	OSVersion   string
	DeviceType  models.DeviceType
	Tags        []string
	AutoBoot    bool
	WaitIfBusy  bool
	WaitTimeout time.Duration
	SessionID   string
}

// Pool owns the shared device-pool file and the simulator-tool refresh
// cache.
type Pool struct {
	log       *logging.Logger
	path      string
	source    Source
	signer    *TokenSigner
	cronSched *cron.Cron

	mu            sync.Mutex
	lastRefresh   time.Time
	cachedDevices []models.Device
}

// New builds a Pool backed by the JSON file at path, refreshing from
// source, and signing claim tokens with signer.
func New(log *logging.Logger, path string, source Source, signer *TokenSigner) *Pool {
	return &Pool{log: log, path: path, source: source, signer: signer}
}

// StartStaleCleanup registers a cron job sweeping stale claims every 30
// minutes, per spec §4.7, in addition to the opportunistic cleanup at the
// start of every Resolve (List, Refresh and Release do not run it).
func (p *Pool) StartStaleCleanup() error {
	p.cronSched = cron.New()
	_, err := p.cronSched.AddFunc("@every 30m", func() {
		_ = p.cleanupStale()
	})
	if err != nil {
		return err
	}
	p.cronSched.Start()
	return nil
}

// StopStaleCleanup stops the cron scheduler.
func (p *Pool) StopStaleCleanup() {
	if p.cronSched != nil {
		p.cronSched.Stop()
	}
}

func (p *Pool) loadFile() (models.PoolFile, error) {
	var pf models.PoolFile
	err := filelock.ReadJSON(p.path, &pf)
	if err != nil {
		pf = models.PoolFile{Version: models.CurrentPoolFileVersion}
	}
	return pf, nil
}

func (p *Pool) saveFile(pf models.PoolFile) error {
	pf.UpdatedAt = time.Now().UTC()
	return filelock.WriteJSON(p.path, pf)
}

// refresh merges the live device list from the simulator tool into the
// pool file's claim bookkeeping, subprocess-cached to at most once every
// refreshInterval per spec §4.7.
func (p *Pool) refresh(ctx context.Context, force bool) (models.PoolFile, error) {
	p.mu.Lock()
	needsRefresh := force || time.Since(p.lastRefresh) > refreshInterval
	p.mu.Unlock()

	pf, err := p.loadFile()
	if err != nil {
		return pf, err
	}

	if !needsRefresh {
		return pf, nil
	}

	live, err := p.source.ListDevices(ctx)
	if err != nil {
		// tool failure: pool degrades to whatever is on disk rather than
		// erroring the caller, per spec §7's degraded-not-propagated rule.
		return pf, nil
	}

	byUDID := make(map[string]models.Device, len(pf.Devices))
	for _, d := range pf.Devices {
		byUDID[d.UDID] = d
	}
	merged := make([]models.Device, 0, len(live))
	for _, d := range live {
		if existing, ok := byUDID[d.UDID]; ok {
			d.ClaimStatus = existing.ClaimStatus
			d.ClaimedBy = existing.ClaimedBy
			d.ClaimedAt = existing.ClaimedAt
			d.LastUsed = existing.LastUsed
			d.Tags = existing.Tags
		}
		merged = append(merged, d)
	}
	pf.Devices = merged

	if err := p.saveFile(pf); err != nil {
		return pf, err
	}

	p.mu.Lock()
	p.lastRefresh = time.Now()
	p.cachedDevices = merged
	p.mu.Unlock()

	return pf, nil
}

// List returns the current pool contents, refreshing from the live
// source if the refresh cache has gone stale, per the devices/pool route.
func (p *Pool) List(ctx context.Context) ([]models.Device, error) {
	pf, err := p.refresh(ctx, false)
	if err != nil {
		return nil, err
	}
	return pf.Devices, nil
}

// Refresh forces an immediate re-sync with the live source, per the
// devices/refresh route.
func (p *Pool) Refresh(ctx context.Context) ([]models.Device, error) {
	pf, err := p.refresh(ctx, true)
	if err != nil {
		return nil, err
	}
	return pf.Devices, nil
}

// Cleanup runs the stale-claim sweep on demand, per the devices/cleanup
// route, returning any error encountered persisting the result.
func (p *Pool) Cleanup() error {
	return p.cleanupStale()
}

func (p *Pool) cleanupStale() error {
	released := 0
	err := withPoolLock(p, func(pf *models.PoolFile) error {
		now := time.Now()
		for i := range pf.Devices {
			d := &pf.Devices[i]
			if d.ClaimStatus == models.ClaimClaimed && d.ClaimedAt != nil && now.Sub(*d.ClaimedAt) > staleClaimAfter {
				d.Release()
				released++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if released > 0 && p.log != nil {
		p.log.WithContext(context.Background()).Info("released stale device claims")
	}
	return nil
}

// matchesCriteria implements the matching rules from spec §4.7: name
// case-insensitive substring, OS version numeric-prefix match, all tags
// present, availability required.
func matchesCriteria(d models.Device, c Criteria) bool {
	if !d.IsAvailable || d.ClaimStatus != models.ClaimAvailable {
		return false
	}
	if d.State != models.StateBooted {
		return false
	}
	if c.DeviceType != "" && d.DeviceType != c.DeviceType {
		return false
	}
	if c.Name != "" && !strings.Contains(strings.ToLower(d.Name), strings.ToLower(c.Name)) {
		return false
	}
	if c.OSVersion != "" && !osVersionMatches(d.OSVersion, c.OSVersion) {
		return false
	}
	for _, tag := range c.Tags {
		if !containsTag(d.Tags, tag) {
			return false
		}
	}
	return true
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// osVersionMatches implements the numeric-prefix rule: "18" matches
// "iOS 18.0" and "iOS 18.2"; "18.2" matches "iOS 18.2" only.
func osVersionMatches(actual, requested string) bool {
	actualNum := extractVersionNumber(actual)
	return actualNum == requested || strings.HasPrefix(actualNum, requested+".")
}

func extractVersionNumber(s string) string {
	var b strings.Builder
	started := false
	for _, r := range s {
		if r >= '0' && r <= '9' || r == '.' {
			b.WriteRune(r)
			started = true
		} else if started {
			break
		}
	}
	return b.String()
}

// rankCandidates orders candidates per spec §4.7: booted before shutdown,
// available before claimed, more-recently-used preferred, name
// lexicographic for stability.
func rankCandidates(devices []models.Device) {
	sort.SliceStable(devices, func(i, j int) bool {
		a, b := devices[i], devices[j]
		if (a.State == models.StateBooted) != (b.State == models.StateBooted) {
			return a.State == models.StateBooted
		}
		if (a.ClaimStatus == models.ClaimAvailable) != (b.ClaimStatus == models.ClaimAvailable) {
			return a.ClaimStatus == models.ClaimAvailable
		}
		aUsed, bUsed := lastUsedOrZero(a), lastUsedOrZero(b)
		if !aUsed.Equal(bUsed) {
			return aUsed.After(bUsed)
		}
		return a.Name < b.Name
	})
}

func lastUsedOrZero(d models.Device) time.Time {
	if d.LastUsed == nil {
		return time.Time{}
	}
	return *d.LastUsed
}

// diagnosticError builds the distinguishing diagnostic messages spec §4.7
// requires when resolution fails outright.
func diagnosticError(all []models.Device, c Criteria) error {
	nameMatched := filterDevices(all, func(d models.Device) bool {
		return c.Name == "" || strings.Contains(strings.ToLower(d.Name), strings.ToLower(c.Name))
	})
	osMatched := filterDevices(nameMatched, func(d models.Device) bool {
		return c.OSVersion == "" || osVersionMatches(d.OSVersion, c.OSVersion)
	})

	if len(nameMatched) == 0 {
		return errs.NotFound("device", c.Name).WithDetails("available_names", deviceNames(all))
	}
	if len(osMatched) == 0 {
		return errs.NotFound("device", c.OSVersion).WithDetails("observed_os_versions", osVersions(nameMatched))
	}

	allClaimed := true
	allShutdown := true
	var claimants []string
	for _, d := range osMatched {
		if d.ClaimStatus == models.ClaimAvailable {
			allClaimed = false
		} else {
			claimants = append(claimants, d.ClaimedBy)
		}
		if d.State != models.StateShutdown {
			allShutdown = false
		}
	}
	if allClaimed {
		return errs.Conflict("all matching devices are claimed").WithDetails("claimants", claimants)
	}
	if allShutdown && !c.AutoBoot {
		return errs.Validation("all matching devices are shutdown and auto_boot is false").
			WithDetails("devices", deviceNames(osMatched))
	}
	return errs.NotFound("device", "no device matched the given criteria")
}

func filterDevices(devices []models.Device, pred func(models.Device) bool) []models.Device {
	var out []models.Device
	for _, d := range devices {
		if pred(d) {
			out = append(out, d)
		}
	}
	return out
}

func deviceNames(devices []models.Device) []string {
	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.Name
	}
	return names
}

func osVersions(devices []models.Device) []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range devices {
		if !seen[d.OSVersion] {
			seen[d.OSVersion] = true
			out = append(out, d.OSVersion)
		}
	}
	return out
}
