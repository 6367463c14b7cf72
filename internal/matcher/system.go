// internal/matcher/system.go
package matcher

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tracecheck/api/schemas"
	"github.com/xkilldash9x/tracecheck/internal/hierarchy"
)

// appPackages maps the app names used in annotations to package names. It is
// read-only after init.
var appPackages = map[string]string{
	"ebay":                    "com.ebay.mobile",
	"booking":                 "com.expedia.bookings",
	"youtube_kid":             "com.google.android.apps.youtube.kids",
	"calendar":                "com.google.android.calendar",
	"facebook":                "com.facebook.katana",
	"calculator":              "com.google.android.calculator",
	"chrome":                  "com.android.chrome",
	"firefox":                 "org.mozilla.firefox",
	"instagram":               "com.instagram.android",
	"excel":                   "com.microsoft.office.excel",
	"mcdonalds":               "com.mcdonalds.app",
	"authenticator":           "com.google.android.apps.authenticator2",
	"Microsoft Excel":         "com.microsoft.office.excel",
	"Duolingo":                "com.duolingo",
	"Microsoft Authenticator": "com.google.android.apps.authenticator2",
	"Booking.com":             "com.expedia.bookings",
	"YouTube Kids":            "com.google.android.apps.youtube.kids",
	"Calculator":              "com.google.android.calculator",
	"Facebook":                "com.facebook.katana",
	"Spotify":                 "com.spotify.music",
}

var packagePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z0-9_]+)+$`)

// PackageName resolves an annotated app name. Names are looked up exactly,
// then case-insensitively; a name that is already a package name is used
// as is.
func PackageName(app string) (string, error) {
	app = strings.TrimSpace(app)
	if pkg, ok := appPackages[app]; ok {
		return pkg, nil
	}
	for name, pkg := range appPackages {
		if strings.EqualFold(name, app) {
			return pkg, nil
		}
	}
	if lower := strings.ToLower(app); packagePattern.MatchString(lower) {
		return lower, nil
	}
	return "", fmt.Errorf("%w: unknown app %q", schemas.ErrCorruptFixture, app)
}

// SystemStateMatcher checks the candidate's installed-apps list. With
// wantInstalled the package must be present, otherwise absent. A candidate
// without a list satisfies neither.
type SystemStateMatcher struct {
	res           *Resources
	wantInstalled bool
	logger        *zap.Logger
}

// NewInstallMatcher creates the CHECK_INSTALL matcher.
func NewInstallMatcher(res *Resources) *SystemStateMatcher {
	return &SystemStateMatcher{res: res, wantInstalled: true, logger: res.Logger.Named("install")}
}

// NewUninstallMatcher creates the CHECK_UNINSTALL matcher.
func NewUninstallMatcher(res *Resources) *SystemStateMatcher {
	return &SystemStateMatcher{res: res, logger: res.Logger.Named("uninstall")}
}

func (m *SystemStateMatcher) Name() string {
	if m.wantInstalled {
		return "InstallMatcher"
	}
	return "UninstallMatcher"
}

func (m *SystemStateMatcher) Match(_ context.Context, gt, cand *schemas.UIState, cp schemas.Checkpoint) (bool, error) {
	if cp.Target.Kind != schemas.TargetApp {
		return false, kindError(cp)
	}
	pkg, err := PackageName(cp.Target.Text)
	if err != nil {
		return false, err
	}
	apps, err := m.res.Artifacts.InstalledApps(cand.InstalledAppsRef)
	if errors.Is(err, hierarchy.ErrNoInstalledApps) {
		m.logger.Debug("Candidate has no installed-apps list, treating as no match.", matchFields(gt, cand, cp)...)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("candidate state %d: %w", cand.Index, err)
	}
	_, installed := apps[pkg]
	m.logger.Debug("Installed-apps lookup.", append(matchFields(gt, cand, cp),
		zap.String("package", pkg), zap.Bool("installed", installed))...)
	return installed == m.wantInstalled, nil
}
