// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/claimroute/internal/audit"
	"github.com/jeranaias/claimroute/internal/config"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	// Colors
	brandPrimary   = lipgloss.Color("#2563EB") // Blue
	brandSecondary = lipgloss.Color("#0EA5E9") // Sky
	brandAccent    = lipgloss.Color("#10B981") // Emerald
	brandWarning   = lipgloss.Color("#F59E0B") // Amber
	brandError     = lipgloss.Color("#EF4444") // Red
	textMuted      = lipgloss.Color("#6B7280") // Gray

	// Styles
	titleStyle = lipgloss.NewStyle().
			Foreground(brandPrimary).
			Bold(true).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(textMuted).
			Italic(true)

	successStyle = lipgloss.NewStyle().
			Foreground(brandAccent).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(brandError).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(brandWarning)

	highlightStyle = lipgloss.NewStyle().
			Foreground(brandSecondary).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(textMuted)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(brandPrimary).
			Padding(1, 2)

	selectedStyle = lipgloss.NewStyle().
			Foreground(brandPrimary).
			Bold(true)

	unselectedStyle = lipgloss.NewStyle().
			Foreground(textMuted)
)

// =============================================================================
// ASCII ART
// =============================================================================

const logo = `
     ██████╗██╗      █████╗ ██╗███╗   ███╗
    ██╔════╝██║     ██╔══██╗██║████╗ ████║
    ██║     ██║     ███████║██║██╔████╔██║
    ██║     ██║     ██╔══██║██║██║╚██╔╝██║
    ╚██████╗███████╗██║  ██║██║██║ ╚═╝ ██║
     ╚═════╝╚══════╝╚═╝  ╚═╝╚═╝╚═╝     ╚═╝
    ██████╗  ██████╗ ██╗   ██╗████████╗███████╗
    ██╔══██╗██╔═══██╗██║   ██║╚══██╔══╝██╔════╝
    ██████╔╝██║   ██║██║   ██║   ██║   █████╗
    ██╔══██╗██║   ██║██║   ██║   ██║   ██╔══╝
    ██║  ██║╚██████╔╝╚██████╔╝   ██║   ███████╗
    ╚═╝  ╚═╝ ╚═════╝  ╚═════╝    ╚═╝   ╚══════╝
`

const tagline = "Deterministic claim routing with a verifiable decision trail"

// =============================================================================
// SETUP MODEL
// =============================================================================

// Phase represents the current setup phase
type Phase int

const (
	PhaseWelcome Phase = iota
	PhaseSystemCheck
	PhaseKeySetup
	PhaseProfileSelect
	PhaseProvision
	PhaseComplete
)

// CheckResult represents a system check or provisioning step result
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warn", "checking"
	Message string
	Fix     string
}

// Profile is a routing threshold preset the setup can write to config.toml.
type Profile struct {
	Name        string
	Description string

	// Keep leaves an existing config.toml untouched.
	Keep bool

	// Apply adjusts the default config. Nil means plain defaults.
	Apply func(*config.Config)
}

// setupProfiles returns the selectable threshold presets. All of them keep
// the fraud investigation threshold at its documented value; the presets
// only move the auto-approval gate.
func setupProfiles() []Profile {
	return []Profile{
		{
			Name:        "standard",
			Description: "Documented tiers (recommended)",
		},
		{
			Name:        "conservative",
			Description: "Tighter instant approval for a new book of business",
			Apply: func(c *config.Config) {
				c.Routing.AutoApproveLimit = 2500
				c.Routing.ConfidenceThreshold = 0.90
				c.Routing.AutoApproveFraudCeiling = 0.20
			},
		},
		{
			Name:        "high-volume",
			Description: "Wider instant approval for a mature book",
			Apply: func(c *config.Config) {
				c.Routing.AutoApproveLimit = 10000
				c.Routing.ConfidenceThreshold = 0.80
			},
		},
		{
			Name:        "manual-first",
			Description: "Nothing auto-approves; every clean claim sees an adjuster",
			Apply: func(c *config.Config) {
				c.Routing.AutoApproveLimit = 0
			},
		},
		{
			Name:        "keep",
			Description: "Keep the existing configuration",
			Keep:        true,
		},
	}
}

// Installer is the main setup model
type Installer struct {
	phase    Phase
	width    int
	height   int
	spinner  spinner.Model
	progress progress.Model

	checks       []CheckResult
	checkFns     []func() CheckResult
	currentCheck int
	keyNeeded    bool

	profiles        []Profile
	profileSelected int

	steps       []setupStep
	stepResults []CheckResult
	currentStep int

	configDir string
	error     string

	// Animation state
	typingText   string
	typingTarget string
	typingIndex  int

	// Completion screen
	launchSelected bool // true = "Open the review console", false = "Close"
}

// NewInstaller creates a new setup instance
func NewInstaller() *Installer {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(brandPrimary)

	p := progress.New(progress.WithDefaultGradient())

	cfgDir, _ := config.ConfigDir()

	fns := setupChecks()
	checks := make([]CheckResult, 0, len(fns))
	for _, name := range checkNames() {
		checks = append(checks, CheckResult{Name: name, Status: "checking"})
	}

	return &Installer{
		phase:          PhaseWelcome,
		spinner:        s,
		progress:       p,
		checks:         checks,
		checkFns:       fns,
		profiles:       setupProfiles(),
		configDir:      cfgDir,
		launchSelected: true, // Default to "Open the review console"
	}
}

// Init initializes the setup
func (i *Installer) Init() tea.Cmd {
	return tea.Batch(
		i.spinner.Tick,
		i.typeWriter(logo, 5*time.Millisecond),
	)
}

// =============================================================================
// UPDATE
// =============================================================================

// typeWriterMsg updates the typing animation
type typeWriterMsg struct {
	target string
	index  int
}

// checkCompleteMsg signals a system check is complete
type checkCompleteMsg struct {
	index  int
	result CheckResult
}

// stepDoneMsg signals a provisioning step is complete
type stepDoneMsg struct {
	index  int
	result CheckResult
}

// provisionDoneMsg signals all provisioning steps succeeded
type provisionDoneMsg struct{}

// Update handles messages
func (i *Installer) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return i.handleKey(msg)

	case tea.WindowSizeMsg:
		i.width = msg.Width
		i.height = msg.Height
		// Clamp progress bar width to a reasonable range
		progressWidth := msg.Width - 20
		if progressWidth < 20 {
			progressWidth = 20
		}
		if progressWidth > 80 {
			progressWidth = 80
		}
		i.progress.Width = progressWidth

		// Update boxStyle width dynamically based on terminal width
		boxWidth := msg.Width - 16
		if boxWidth < 40 {
			boxWidth = 40
		}
		if boxWidth > 72 {
			boxWidth = 72
		}
		boxStyle = boxStyle.Width(boxWidth)

		// Return spinner tick to force a redraw
		return i, i.spinner.Tick

	case spinner.TickMsg:
		var cmd tea.Cmd
		i.spinner, cmd = i.spinner.Update(msg)
		return i, cmd

	case progress.FrameMsg:
		progressModel, cmd := i.progress.Update(msg)
		i.progress = progressModel.(progress.Model)
		return i, cmd

	case typeWriterMsg:
		if msg.target == i.typingTarget && msg.index <= len(msg.target) {
			i.typingText = msg.target[:msg.index]
			i.typingIndex = msg.index
			if msg.index < len(msg.target) {
				return i, i.typeWriterTick(msg.target, msg.index+1, 5*time.Millisecond)
			}
		}
		return i, nil

	case checkCompleteMsg:
		i.checks[msg.index] = msg.result
		i.currentCheck++
		if i.currentCheck < len(i.checks) {
			return i, i.runCheck(i.currentCheck)
		}
		// All checks complete
		for _, c := range i.checks {
			if c.Name == checkNameTrailKey {
				i.keyNeeded = c.Status != "pass"
			}
		}
		return i, nil

	case stepDoneMsg:
		i.stepResults[msg.index] = msg.result
		if msg.result.Status == "fail" {
			i.error = msg.result.Message
			return i, i.progress.SetPercent(float64(msg.index) / float64(len(i.steps)))
		}
		i.currentStep++
		cmds := []tea.Cmd{
			i.progress.SetPercent(float64(i.currentStep) / float64(len(i.steps))),
		}
		if i.currentStep < len(i.steps) {
			cmds = append(cmds, i.runStep(i.currentStep))
		} else {
			// Let the bar finish animating before the completion screen.
			cmds = append(cmds, tea.Tick(750*time.Millisecond, func(time.Time) tea.Msg {
				return provisionDoneMsg{}
			}))
		}
		return i, tea.Batch(cmds...)

	case provisionDoneMsg:
		i.phase = PhaseComplete
		return i, nil
	}

	return i, nil
}

// handleKey processes key presses
func (i *Installer) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return i, tea.Quit

	case "enter", " ":
		return i.handleSelect()

	case "up", "k":
		if i.phase == PhaseProfileSelect && i.profileSelected > 0 {
			i.profileSelected--
		}
		if i.phase == PhaseComplete {
			i.launchSelected = true
		}
		return i, nil

	case "down", "j":
		if i.phase == PhaseProfileSelect && i.profileSelected < len(i.profiles)-1 {
			i.profileSelected++
		}
		if i.phase == PhaseComplete {
			i.launchSelected = false
		}
		return i, nil

	case "tab":
		if i.phase == PhaseComplete {
			i.launchSelected = !i.launchSelected
		}
		return i, nil
	}

	return i, nil
}

// handleSelect processes selection/enter
func (i *Installer) handleSelect() (tea.Model, tea.Cmd) {
	switch i.phase {
	case PhaseWelcome:
		i.phase = PhaseSystemCheck
		return i, i.runCheck(0)

	case PhaseSystemCheck:
		if i.currentCheck >= len(i.checks) {
			if i.keyNeeded {
				i.phase = PhaseKeySetup
			} else {
				i.phase = PhaseProfileSelect
			}
		}
		return i, nil

	case PhaseKeySetup:
		i.phase = PhaseProfileSelect
		return i, nil

	case PhaseProfileSelect:
		i.phase = PhaseProvision
		i.steps = provisionSteps(i.profiles[i.profileSelected])
		i.stepResults = make([]CheckResult, len(i.steps))
		for idx := range i.stepResults {
			i.stepResults[idx] = CheckResult{Name: i.steps[idx].Name, Status: "checking"}
		}
		i.currentStep = 0
		return i, tea.Batch(i.progress.SetPercent(0), i.runStep(0))

	case PhaseProvision:
		// Wait for provisioning to finish
		return i, nil

	case PhaseComplete:
		if i.launchSelected {
			return i, i.launchConsole()
		}
		return i, tea.Quit
	}

	return i, nil
}

// =============================================================================
// COMMANDS
// =============================================================================

// typeWriter starts a typing animation
func (i *Installer) typeWriter(text string, delay time.Duration) tea.Cmd {
	i.typingTarget = text
	i.typingIndex = 0
	i.typingText = ""
	return i.typeWriterTick(text, 1, delay)
}

// typeWriterTick sends the next typewriter tick
func (i *Installer) typeWriterTick(target string, index int, delay time.Duration) tea.Cmd {
	return tea.Tick(delay, func(t time.Time) tea.Msg {
		return typeWriterMsg{target: target, index: index}
	})
}

// runCheck runs a system check
func (i *Installer) runCheck(index int) tea.Cmd {
	return func() tea.Msg {
		result := i.checkFns[index]()
		time.Sleep(300 * time.Millisecond) // Pacing so each check is visible
		return checkCompleteMsg{index: index, result: result}
	}
}

// runStep runs a provisioning step
func (i *Installer) runStep(index int) tea.Cmd {
	return func() tea.Msg {
		result := i.steps[index].Run()
		time.Sleep(200 * time.Millisecond)
		return stepDoneMsg{index: index, result: result}
	}
}

// =============================================================================
// SYSTEM CHECKS
// =============================================================================

// checkNameTrailKey keys the signing-key check in both the check list and
// the text-mode renderer.
const checkNameTrailKey = "Decision Trail Key"

// checkNames returns the check display names in run order.
func checkNames() []string {
	return []string{
		"Operating System",
		"Data Directory",
		"Existing Data",
		checkNameTrailKey,
		"Disk Space",
	}
}

// setupChecks returns the system checks in run order. Shared by the TUI and
// text modes.
func setupChecks() []func() CheckResult {
	return []func() CheckResult{
		checkOS,
		checkDataDir,
		checkExistingData,
		checkTrailKey,
		checkDiskSpace,
	}
}

func checkOS() CheckResult {
	return CheckResult{
		Name:    "Operating System",
		Status:  "pass",
		Message: fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

func checkDataDir() CheckResult {
	dir, err := config.ConfigDir()
	if err != nil {
		return CheckResult{
			Name:    "Data Directory",
			Status:  "fail",
			Message: err.Error(),
			Fix:     "Set " + config.ConfigDirEnvVar + " to a writable directory",
		}
	}
	if _, err := os.Stat(dir); err == nil {
		return CheckResult{Name: "Data Directory", Status: "pass", Message: dir}
	}
	return CheckResult{Name: "Data Directory", Status: "pass", Message: "will create " + dir}
}

func checkExistingData() CheckResult {
	dir, err := config.ConfigDir()
	if err != nil {
		return CheckResult{Name: "Existing Data", Status: "warn", Message: "could not resolve data directory"}
	}
	_, dbErr := os.Stat(filepath.Join(dir, "claims.db"))
	_, cfgErr := os.Stat(filepath.Join(dir, "config.toml"))
	switch {
	case dbErr == nil:
		return CheckResult{
			Name:    "Existing Data",
			Status:  "warn",
			Message: "claim store found - claims and decisions are left untouched",
		}
	case cfgErr == nil:
		return CheckResult{
			Name:    "Existing Data",
			Status:  "pass",
			Message: "config.toml found - choose the 'keep' profile to leave it alone",
		}
	default:
		return CheckResult{Name: "Existing Data", Status: "pass", Message: "fresh install"}
	}
}

func checkTrailKey() CheckResult {
	if ok, source := auditKeyConfigured(defaultAuditDir()); ok {
		return CheckResult{
			Name:    checkNameTrailKey,
			Status:  "pass",
			Message: "configured (" + source + ")",
		}
	}
	return CheckResult{
		Name:    checkNameTrailKey,
		Status:  "warn",
		Message: "no signing key yet",
		Fix:     "One will be generated during provisioning",
	}
}

func checkDiskSpace() CheckResult {
	home, err := os.UserHomeDir()
	if err != nil {
		return CheckResult{Name: "Disk Space", Status: "warn", Message: "could not resolve home directory"}
	}
	free, err := freeDiskBytes(home)
	if err != nil {
		return CheckResult{Name: "Disk Space", Status: "warn", Message: "could not determine free space"}
	}
	// The store, chain, and queues are small files; 200 MB leaves headroom.
	const minFree = 200 << 20
	if free < minFree {
		return CheckResult{
			Name:    "Disk Space",
			Status:  "warn",
			Message: humanBytes(free) + " free - the claim store may outgrow this",
		}
	}
	return CheckResult{Name: "Disk Space", Status: "pass", Message: humanBytes(free) + " free"}
}

// auditKeyConfigured reports whether any signing key source the trail
// accepts is already in place, and which one.
func auditKeyConfigured(auditDir string) (bool, string) {
	if os.Getenv(audit.KeyEnvVar) != "" {
		return true, "environment key"
	}
	if os.Getenv(audit.KeyFileEnvVar) != "" {
		return true, "key file from environment"
	}
	if os.Getenv(audit.PassphraseEnvVar) != "" {
		return true, "passphrase"
	}
	if _, err := os.Stat(filepath.Join(auditDir, audit.DefaultKeyFileName)); err == nil {
		return true, "key file"
	}
	return false, ""
}

// defaultAuditDir resolves the audit directory the way the runtime will,
// honoring an existing config file.
func defaultAuditDir() string {
	if cfg, err := config.Load(); err == nil {
		if dir, err := cfg.AuditDir(); err == nil {
			return dir
		}
	}
	dir, _ := config.ConfigDir()
	return filepath.Join(dir, "audit")
}

func humanBytes(n uint64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.0f MB", float64(n)/(1<<20))
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// =============================================================================
// PROVISIONING STEPS
// =============================================================================

// setupStep is one unit of provisioning work. Shared by the TUI and text
// modes.
type setupStep struct {
	Name string
	Run  func() CheckResult
}

// provisionSteps returns the provisioning steps for the chosen profile, in
// run order. Configuration comes first because the directory and key steps
// resolve their paths through it.
func provisionSteps(profile Profile) []setupStep {
	return []setupStep{
		{Name: "Configuration", Run: func() CheckResult { return writeProfileConfig(profile) }},
		{Name: "Data directories", Run: provisionDataDirs},
		{Name: checkNameTrailKey, Run: ensureTrailKey},
		{Name: "Claim routing binary", Run: ensureBinary},
	}
}

// writeProfileConfig writes config.toml with the profile's thresholds
// applied, or keeps an existing file when the profile says so.
func writeProfileConfig(profile Profile) CheckResult {
	const name = "Configuration"
	path, err := config.ConfigPath()
	if err != nil {
		return CheckResult{Name: name, Status: "fail", Message: err.Error()}
	}

	detail := profile.Name
	if profile.Keep {
		if _, err := os.Stat(path); err == nil {
			return CheckResult{Name: name, Status: "pass", Message: "kept " + path}
		}
		// Nothing to keep; write plain defaults instead.
		detail = "defaults"
	}

	cfg := config.Default()
	if !profile.Keep && profile.Apply != nil {
		profile.Apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return CheckResult{Name: name, Status: "fail", Message: err.Error()}
	}
	if err := config.SaveToPath(cfg, path); err != nil {
		return CheckResult{Name: name, Status: "fail", Message: err.Error()}
	}
	return CheckResult{Name: name, Status: "pass", Message: "wrote " + path + " (" + detail + ")"}
}

// provisionDataDirs creates the audit, intake, outbound, and metrics
// directories the runtime expects.
func provisionDataDirs() CheckResult {
	const name = "Data directories"
	cfg, err := config.Load()
	if err != nil {
		return CheckResult{Name: name, Status: "fail", Message: err.Error()}
	}

	var dirs []string
	for _, resolve := range []func() (string, error){cfg.AuditDir, cfg.IntakeDir, cfg.DispatchDir} {
		dir, err := resolve()
		if err != nil {
			return CheckResult{Name: name, Status: "fail", Message: err.Error()}
		}
		dirs = append(dirs, dir)
	}
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return CheckResult{Name: name, Status: "fail", Message: err.Error()}
	}
	dirs = append(dirs, filepath.Join(cfgDir, "metrics"))

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return CheckResult{Name: name, Status: "fail", Message: err.Error()}
		}
	}
	return CheckResult{
		Name:    name,
		Status:  "pass",
		Message: fmt.Sprintf("%d directories ready under %s", len(dirs), cfgDir),
	}
}

// ensureTrailKey generates the decision trail signing key unless one is
// already configured through the environment or on disk.
func ensureTrailKey() CheckResult {
	auditDir := defaultAuditDir()
	if ok, source := auditKeyConfigured(auditDir); ok {
		return CheckResult{
			Name:    checkNameTrailKey,
			Status:  "pass",
			Message: "already configured (" + source + ")",
		}
	}
	keyPath := filepath.Join(auditDir, audit.DefaultKeyFileName)
	if err := audit.GenerateKey(keyPath); err != nil {
		return CheckResult{Name: checkNameTrailKey, Status: "fail", Message: err.Error()}
	}
	return CheckResult{
		Name:    checkNameTrailKey,
		Status:  "pass",
		Message: "generated " + keyPath,
		Fix:     "Back this file up - the trail cannot be verified without it",
	}
}

// ensureBinary makes sure a claimroute binary is reachable, downloading a
// release when none is found. Source builds are normal for internal
// deployments, so a failed download is a warning, not an error.
func ensureBinary() CheckResult {
	const name = "Claim routing binary"
	if path, ok := resolveBinary(); ok {
		return CheckResult{Name: name, Status: "pass", Message: "found at " + path}
	}
	installDir := defaultInstallDir()
	if err := downloadReleaseBinary(installDir); err != nil {
		return CheckResult{
			Name:    name,
			Status:  "warn",
			Message: "not downloaded (" + err.Error() + ")",
			Fix:     "Build from source: go build -o " + binaryPath(installDir) + " .",
		}
	}
	return CheckResult{Name: name, Status: "pass", Message: "downloaded to " + installDir}
}

// =============================================================================
// RELEASE BINARY DOWNLOAD
// =============================================================================

// GitHubRelease represents a GitHub release response
type GitHubRelease struct {
	TagName string        `json:"tag_name"`
	Assets  []GitHubAsset `json:"assets"`
}

// GitHubAsset represents a release asset
type GitHubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// isWindows reports whether setup is running on Windows.
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// defaultInstallDir is where a downloaded binary lands.
func defaultInstallDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "bin")
}

func binaryName() string {
	if isWindows() {
		return "claimroute.exe"
	}
	return "claimroute"
}

func binaryPath(installDir string) string {
	return filepath.Join(installDir, binaryName())
}

// resolveBinary locates the claimroute binary, preferring PATH over the
// default install directory.
func resolveBinary() (string, bool) {
	if path, err := exec.LookPath("claimroute"); err == nil {
		return path, true
	}
	path := binaryPath(defaultInstallDir())
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	return path, false
}

// downloadReleaseBinary downloads the claimroute binary from the latest
// GitHub release into installDir.
func downloadReleaseBinary(installDir string) error {
	const repoOwner = "jeranaias"
	const repoName = "claimroute"

	// Map Go architecture names to the names releases use
	archName := runtime.GOARCH
	switch runtime.GOARCH {
	case "amd64":
		archName = "x86_64"
	case "386":
		archName = "i386"
	}

	// Map Go OS names to the names releases use
	osName := runtime.GOOS
	switch runtime.GOOS {
	case "darwin":
		osName = "Darwin"
	case "linux":
		osName = "Linux"
	case "windows":
		osName = "Windows"
	}

	// Get the latest release info
	releaseURL := fmt.Sprintf("https://api.github.com/repos/%s/%s/releases/latest", repoOwner, repoName)
	resp, err := http.Get(releaseURL)
	if err != nil {
		return fmt.Errorf("failed to fetch release info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch release info: HTTP %d", resp.StatusCode)
	}

	var release GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return fmt.Errorf("failed to parse release info: %w", err)
	}

	// Find the asset for this platform, e.g. claimroute_Linux_x86_64.tar.gz
	var assetURL string
	var assetName string
	for _, asset := range release.Assets {
		if strings.Contains(asset.Name, osName) && strings.Contains(asset.Name, archName) {
			assetURL = asset.BrowserDownloadURL
			assetName = asset.Name
			break
		}
	}
	if assetURL == "" {
		return fmt.Errorf("no release found for %s/%s", osName, archName)
	}

	// Download the asset
	assetResp, err := http.Get(assetURL)
	if err != nil {
		return fmt.Errorf("failed to download binary: %w", err)
	}
	defer assetResp.Body.Close()

	if assetResp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download binary: HTTP %d", assetResp.StatusCode)
	}

	// Stage in a temp file
	tmpFile, err := os.CreateTemp("", "claimroute-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmpFile, assetResp.Body); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to save download: %w", err)
	}
	tmpFile.Close()

	if err := os.MkdirAll(installDir, 0755); err != nil {
		return fmt.Errorf("failed to create install directory: %w", err)
	}

	// Extract or copy the binary
	switch {
	case strings.HasSuffix(assetName, ".zip"):
		if err := extractZip(tmpPath, installDir); err != nil {
			return fmt.Errorf("failed to extract zip: %w", err)
		}
	case strings.HasSuffix(assetName, ".tar.gz"), strings.HasSuffix(assetName, ".tgz"):
		if err := extractTarGz(tmpPath, installDir); err != nil {
			return fmt.Errorf("failed to extract tar.gz: %w", err)
		}
	default:
		dest := binaryPath(installDir)
		if err := copyFile(tmpPath, dest); err != nil {
			return fmt.Errorf("failed to copy binary: %w", err)
		}
		os.Chmod(dest, 0755)
	}

	return nil
}

// extractZip extracts the claimroute binary from a zip archive
func extractZip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		// Only extract the claimroute binary
		name := filepath.Base(f.Name)
		if name != "claimroute" && name != "claimroute.exe" {
			continue
		}

		destPath := filepath.Join(dest, name)

		rc, err := f.Open()
		if err != nil {
			return err
		}

		outFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
		if err != nil {
			rc.Close()
			return err
		}

		_, err = io.Copy(outFile, rc)
		outFile.Close()
		rc.Close()
		if err != nil {
			return err
		}
	}

	return nil
}

// extractTarGz extracts the claimroute binary from a tar.gz archive
func extractTarGz(src, dest string) error {
	file, err := os.Open(src)
	if err != nil {
		return err
	}
	defer file.Close()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		return err
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		// Only extract the claimroute binary
		name := filepath.Base(header.Name)
		if name != "claimroute" && name != "claimroute.exe" {
			continue
		}

		destPath := filepath.Join(dest, name)

		outFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
		if err != nil {
			return err
		}

		if _, err := io.Copy(outFile, tr); err != nil {
			outFile.Close()
			return err
		}
		outFile.Close()
	}

	return nil
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}

// =============================================================================
// LAUNCH
// =============================================================================

// launchConsole opens a terminal running the review console
func (i *Installer) launchConsole() tea.Cmd {
	return func() tea.Msg {
		launchConsoleTerminal()
		return tea.Quit()
	}
}

// launchConsoleTerminal spawns `claimroute console` in a new terminal
// window, best effort per platform.
func launchConsoleTerminal() {
	bin, _ := resolveBinary()

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		// Try Windows Terminal first (wt), fallback to cmd
		if _, err := exec.LookPath("wt"); err == nil {
			cmd = exec.Command("wt", "new-tab", "--title", "claimroute", bin, "console")
		} else {
			cmd = exec.Command("cmd", "/C", "start", "claimroute", "cmd", "/K", bin+" console")
		}

	case "darwin":
		script := fmt.Sprintf(`tell application "Terminal"
			activate
			do script "%s console"
		end tell`, bin)
		cmd = exec.Command("osascript", "-e", script)

	default:
		// Linux: try common terminal emulators
		terminals := []struct {
			name string
			args []string
		}{
			{"gnome-terminal", []string{"--", bin, "console"}},
			{"konsole", []string{"-e", bin, "console"}},
			{"xfce4-terminal", []string{"-e", bin + " console"}},
			{"alacritty", []string{"-e", bin, "console"}},
			{"kitty", []string{bin, "console"}},
			{"xterm", []string{"-e", bin, "console"}},
		}

		for _, term := range terminals {
			if _, err := exec.LookPath(term.name); err == nil {
				cmd = exec.Command(term.name, term.args...)
				break
			}
		}

		// Fallback: run in the current terminal once setup exits
		if cmd == nil {
			cmd = exec.Command(bin, "console")
		}
	}

	if cmd != nil {
		_ = cmd.Start()
	}
}

// =============================================================================
// VIEW
// =============================================================================

// View renders the setup
func (i *Installer) View() string {
	switch i.phase {
	case PhaseWelcome:
		return i.viewWelcome()
	case PhaseSystemCheck:
		return i.viewSystemCheck()
	case PhaseKeySetup:
		return i.viewKeySetup()
	case PhaseProfileSelect:
		return i.viewProfileSelect()
	case PhaseProvision:
		return i.viewProvision()
	case PhaseComplete:
		return i.viewComplete()
	}
	return ""
}

func (i *Installer) viewWelcome() string {
	var s strings.Builder

	// Logo with typing effect
	logoStyle := lipgloss.NewStyle().Foreground(brandPrimary).Bold(true)
	if i.typingTarget == logo {
		s.WriteString(logoStyle.Render(i.typingText))
	} else {
		s.WriteString(logoStyle.Render(logo))
	}

	s.WriteString("\n")
	s.WriteString(subtitleStyle.Render("    " + tagline))
	s.WriteString("\n\n")

	// Version
	s.WriteString(dimStyle.Render(fmt.Sprintf("    Setup %s", version)))
	s.WriteString("\n\n")

	// Welcome box
	welcomeText := `
Welcome to claimroute!

This setup will:

  * Check your system
  * Let you pick a routing threshold profile
  * Create your configuration and data directories
  * Generate the decision trail signing key
  * Have you routing claims in under a minute

`
	s.WriteString(boxStyle.Render(welcomeText))
	s.WriteString("\n\n")

	// Continue prompt
	s.WriteString(highlightStyle.Render("  Press ENTER to begin"))
	s.WriteString(dimStyle.Render("  |  Press Q to quit"))

	return i.center(s.String())
}

func (i *Installer) viewSystemCheck() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("  System Check"))
	s.WriteString("\n\n")

	for idx, check := range i.checks {
		var icon, status string
		var style lipgloss.Style

		switch check.Status {
		case "checking":
			if idx == i.currentCheck {
				icon = i.spinner.View()
			} else {
				icon = "[ ]"
			}
			status = "Checking..."
			style = dimStyle
		case "pass":
			icon = "[OK]"
			status = check.Message
			style = successStyle
		case "fail":
			icon = "[FAIL]"
			status = check.Message
			style = errorStyle
		case "warn":
			icon = "[!!]"
			status = check.Message
			style = warningStyle
		}

		s.WriteString(fmt.Sprintf("  %s %s", style.Render(icon), check.Name))
		s.WriteString(dimStyle.Render(fmt.Sprintf(" - %s", status)))
		s.WriteString("\n")

		if check.Fix != "" {
			s.WriteString(dimStyle.Render(fmt.Sprintf("      -> %s", check.Fix)))
			s.WriteString("\n")
		}
	}

	s.WriteString("\n")

	if i.currentCheck >= len(i.checks) {
		// All checks complete
		allPass := true
		for _, check := range i.checks {
			if check.Status == "fail" {
				allPass = false
				break
			}
		}

		if allPass {
			s.WriteString(successStyle.Render("  All checks passed!"))
			s.WriteString("\n\n")
			s.WriteString(highlightStyle.Render("  Press ENTER to continue"))
		} else {
			s.WriteString(warningStyle.Render("  Some checks need attention"))
			s.WriteString("\n\n")
			s.WriteString(highlightStyle.Render("  Press ENTER to continue anyway"))
		}
	}

	return i.center(s.String())
}

func (i *Installer) viewKeySetup() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("  Decision Trail Key"))
	s.WriteString("\n\n")

	keyPath := filepath.Join(defaultAuditDir(), audit.DefaultKeyFileName)
	content := `
Every routing decision is chained into an HMAC-signed trail, so
tampering with past decisions is detectable.

No signing key is configured yet. Provisioning will generate one at:

  ` + highlightStyle.Render(keyPath) + `

Back that file up once it exists; the trail cannot be verified
without it. To supply your own key instead, quit and set:

  ` + highlightStyle.Render(audit.KeyEnvVar) + ` (hex-encoded key)
  ` + highlightStyle.Render(audit.PassphraseEnvVar) + ` (derived key)
`

	s.WriteString(boxStyle.Render(content))
	s.WriteString("\n\n")
	s.WriteString(highlightStyle.Render("  Press ENTER to continue"))

	return i.center(s.String())
}

func (i *Installer) viewProfileSelect() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("Choose a Routing Profile"))
	s.WriteString("\n\n")

	s.WriteString(dimStyle.Render("Thresholds land in config.toml and can be tuned anytime with 'claimroute config':"))
	s.WriteString("\n\n")

	// Build profile list with consistent alignment
	for idx, p := range i.profiles {
		cursor := "  " // No cursor (2 spaces for alignment)
		style := unselectedStyle
		if idx == i.profileSelected {
			cursor = "> " // Cursor takes same space
			style = selectedStyle
		}
		s.WriteString(style.Render(fmt.Sprintf("  %s%-13s %s", cursor, p.Name, p.Description)))
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(dimStyle.Render("Use ↑/↓ to select, ENTER to confirm"))

	return i.center(s.String())
}

func (i *Installer) viewProvision() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("  Provisioning claimroute"))
	s.WriteString("\n\n")

	for idx, result := range i.stepResults {
		var icon, status string
		var style lipgloss.Style

		switch result.Status {
		case "checking":
			if idx == i.currentStep {
				icon = i.spinner.View()
			} else {
				icon = "[ ]"
			}
			status = "Waiting..."
			style = dimStyle
		case "pass":
			icon = "[OK]"
			status = result.Message
			style = successStyle
		case "fail":
			icon = "[FAIL]"
			status = result.Message
			style = errorStyle
		case "warn":
			icon = "[!!]"
			status = result.Message
			style = warningStyle
		}

		s.WriteString(fmt.Sprintf("  %s %s", style.Render(icon), result.Name))
		s.WriteString(dimStyle.Render(fmt.Sprintf(" - %s", status)))
		s.WriteString("\n")

		if result.Fix != "" {
			s.WriteString(dimStyle.Render(fmt.Sprintf("      -> %s", result.Fix)))
			s.WriteString("\n")
		}
	}

	s.WriteString("\n  ")
	s.WriteString(i.progress.View())
	s.WriteString("\n")

	if i.error != "" {
		s.WriteString("\n")
		s.WriteString(errorStyle.Render("  Setup failed: " + i.error))
		s.WriteString("\n\n")
		s.WriteString(highlightStyle.Render("  Press Q to exit, fix the problem, and run setup again"))
	}

	return i.center(s.String())
}

func (i *Installer) viewComplete() string {
	var s strings.Builder

	// Success art
	successArt := `
    +------------------------------------------+
    |                                          |
    |         *** Setup Complete! ***          |
    |                                          |
    +------------------------------------------+
`
	s.WriteString(successStyle.Render(successArt))
	s.WriteString("\n")

	// Quick highlights
	highlights := `
  +------------------------------------------------------+
  |  What you just got:                                  |
  |                                                      |
  |  * Deterministic routing   Four rules, one winner    |
  |  * Decision trail          HMAC-chained, verifiable  |
  |  * Downstream queues       Settlements and reviews   |
  |  * Intake watcher          Drop bundles, get routed  |
  |  * Review console          claimroute console        |
  |  * Live dashboard          claimroute dashboard      |
  +------------------------------------------------------+
`
	s.WriteString(dimStyle.Render(highlights))
	s.WriteString("\n")

	// Two options with selection indicator
	s.WriteString("  Choose your next step:\n\n")

	// Option 1: Open the review console
	launch := "  Open the review console"
	if i.launchSelected {
		s.WriteString(selectedStyle.Render("  > " + launch))
		s.WriteString(highlightStyle.Render("  <- Opens a new terminal"))
	} else {
		s.WriteString(unselectedStyle.Render("    " + launch))
	}
	s.WriteString("\n\n")

	// Option 2: Close
	closeText := "  Close setup"
	if !i.launchSelected {
		s.WriteString(selectedStyle.Render("  > " + closeText))
		s.WriteString(dimStyle.Render("  <- Run 'claimroute console' anytime"))
	} else {
		s.WriteString(unselectedStyle.Render("    " + closeText))
	}
	s.WriteString("\n\n")

	// Navigation help
	s.WriteString(dimStyle.Render("  Up/Down or Tab to select  |  Enter to confirm"))
	s.WriteString("\n\n")

	// Config path
	s.WriteString(dimStyle.Render(fmt.Sprintf("  Config: %s", filepath.Join(i.configDir, "config.toml"))))

	return i.center(s.String())
}

// center pads content toward the vertical center of the screen
func (i *Installer) center(content string) string {
	if i.width == 0 || i.height == 0 {
		return content
	}

	lines := strings.Split(content, "\n")
	height := len(lines)

	topPadding := (i.height - height) / 3
	if topPadding < 0 {
		topPadding = 0
	}

	var s strings.Builder
	for j := 0; j < topPadding; j++ {
		s.WriteString("\n")
	}
	s.WriteString(content)

	return s.String()
}
