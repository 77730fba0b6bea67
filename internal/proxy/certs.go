package proxy

import (
	"context"
	"sync"
	"time"

	"github.com/quern/quern/internal/errs"
	"github.com/quern/quern/internal/models"
	"github.com/quern/quern/internal/subprocess"
)

// CertStatus is the per-device trust-store outcome from verify_cert.
type CertStatus string

const (
	CertInstalled    CertStatus = "installed"
	CertNotInstalled CertStatus = "not_installed"
	CertNeverBooted  CertStatus = "never_booted"
	CertError        CertStatus = "error"
)

// CertReport is one device's trust-store status, as returned by
// verify_cert.
type CertReport struct {
	UDID   string     `json:"udid"`
	Status CertStatus `json:"status"`
}

// certCacheEntry remembers the last known installed state for a udid, so
// a later transition to not_installed without an intervening uninstall
// command can be flagged as a probable erase.
type certCacheEntry struct {
	lastStatus CertStatus
	checkedAt  time.Time
}

// CertVerifier queries simulator trust-store databases directly (ground
// truth, not a behavioral probe) via the `security` command-line tool,
// per spec §4.5.
type CertVerifier struct {
	certFingerprint string

	mu    sync.Mutex
	cache map[string]certCacheEntry
}

// NewCertVerifier builds a verifier that looks for certFingerprint (the
// SHA-1 of the Quern root CA) in each simulator's trust store.
func NewCertVerifier(certFingerprint string) *CertVerifier {
	return &CertVerifier{certFingerprint: certFingerprint, cache: make(map[string]certCacheEntry)}
}

// VerifyCert queries the trust store for each device and returns both the
// per-device reports and the udids that look like they were erased since
// the last check (previously installed, now missing, without ever having
// been told to uninstall).
func (v *CertVerifier) VerifyCert(ctx context.Context, devices []models.Device, deviceType models.DeviceType, stateFilter models.DeviceState) ([]CertReport, []string, error) {
	var reports []CertReport
	var erased []string

	for _, d := range devices {
		if deviceType != "" && d.DeviceType != deviceType {
			continue
		}
		if stateFilter != "" && d.State != stateFilter {
			continue
		}

		status := v.queryTrustStore(ctx, d)
		reports = append(reports, CertReport{UDID: d.UDID, Status: status})

		v.mu.Lock()
		prev, seen := v.cache[d.UDID]
		if seen && prev.lastStatus == CertInstalled && status == CertNotInstalled {
			erased = append(erased, d.UDID)
		}
		v.cache[d.UDID] = certCacheEntry{lastStatus: status, checkedAt: time.Now()}
		v.mu.Unlock()
	}

	return reports, erased, nil
}

// queryTrustStore shells out to `security` against the simulator's
// TrustStore.sqlite3, looking for a certificate matching the configured
// fingerprint. A never-booted device has no trust store file yet.
func (v *CertVerifier) queryTrustStore(ctx context.Context, d models.Device) CertStatus {
	if d.DeviceType != models.DeviceSimulator {
		return CertError
	}
	if d.State != models.StateBooted && d.State != models.StateShutdown {
		return CertNeverBooted
	}

	_, err := subprocess.Run(ctx, "security", "security",
		[]string{"find-certificate", "-c", v.certFingerprint, "-Z"}, nil, 10*time.Second)
	if err != nil {
		if qe, ok := errs.As(err); ok && qe.Code == errs.CodeSubprocessFailed {
			return CertNotInstalled
		}
		return CertError
	}
	return CertInstalled
}

// InstallCert installs the Quern root CA into a simulator's trust store.
// Physical devices require UI-driven installation, per spec §4.5.
func (v *CertVerifier) InstallCert(ctx context.Context, d models.Device, certPath string) error {
	if d.DeviceType != models.DeviceSimulator {
		return errs.Validation("certificate installation on physical devices requires UI-driven setup")
	}
	_, err := subprocess.Run(ctx, "simctl", "xcrun",
		[]string{"simctl", "keychain", d.UDID, "add-root-cert", certPath}, nil, 30*time.Second)
	return err
}
