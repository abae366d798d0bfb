package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting a publishing run needs.
// It is built once, validated, and handed to each component.
type Config struct {
	// PackageName is the AUR package being maintained.
	PackageName string `yaml:"package_name"`
	// PackageDescription is written to pkgdesc.
	PackageDescription string `yaml:"package_description"`
	// Homepage is written to the url field of the manifest.
	Homepage string `yaml:"homepage"`
	// Depends lists runtime dependencies of the package.
	Depends []string `yaml:"depends"`
	// InstallPath is where package() installs the extracted file.
	InstallPath string `yaml:"install_path"`
	// InstallSource is the file inside the archive that gets installed.
	InstallSource string `yaml:"install_source"`
	// Maintainer is written to the manifest header.
	Maintainer string `yaml:"maintainer"`

	// SourceURL is the upstream file mirrored through the archive.
	SourceURL string `yaml:"source_url"`
	// ArchiveBaseURL is the Wayback Machine root used for save, browse and download.
	ArchiveBaseURL string `yaml:"archive_base_url"`
	// AvailabilityURL is the endpoint reporting the closest snapshot of a URL.
	AvailabilityURL string `yaml:"availability_url"`
	// FallbackToExisting uses the newest existing snapshot when a capture cannot be requested.
	FallbackToExisting bool `yaml:"fallback_to_existing"`

	// RemoteURL is the package repository remote.
	RemoteURL string `yaml:"remote_url"`
	// Branch is the remote branch that receives updates.
	Branch string `yaml:"branch"`
	// WorkDir is the disposable local working copy.
	WorkDir string `yaml:"work_dir"`
	// SSHKeyPath is the private key used for git transport.
	SSHKeyPath string `yaml:"ssh_key_path"`
	// CommitAuthorName overrides the git author name when set.
	CommitAuthorName string `yaml:"commit_author_name"`
	// CommitAuthorEmail overrides the git author email when set.
	CommitAuthorEmail string `yaml:"commit_author_email"`

	// Timeout bounds every single HTTP call.
	Timeout time.Duration `yaml:"timeout"`
	// Poll configures waiting for a requested snapshot.
	Poll PollConfig `yaml:"poll"`
}

// PollConfig is the wait budget for a snapshot capture.
type PollConfig struct {
	// InitialDelay is waited once before the first poll.
	InitialDelay time.Duration `yaml:"initial_delay"`
	// Interval is the delay between polls.
	Interval time.Duration `yaml:"interval"`
	// Multiplier grows Interval after every poll; 1 keeps it fixed.
	Multiplier float64 `yaml:"multiplier"`
	// MaxInterval caps the grown interval.
	MaxInterval time.Duration `yaml:"max_interval"`
	// MaxAttempts is the number of polls before giving up.
	MaxAttempts int `yaml:"max_attempts"`
	// MaxWait is the overall budget including InitialDelay.
	MaxWait time.Duration `yaml:"max_wait"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "aur-wayback-updater.yaml"

	// DefaultPackageName is the package this tool was written for.
	DefaultPackageName = "aacs-keydb-daily"

	// DefaultSourceURL is the upstream KEYDB export.
	DefaultSourceURL = "http://fvonline-db.bplaced.net/export/keydb_eng.zip"

	// DefaultArchiveBaseURL is the Wayback Machine root.
	DefaultArchiveBaseURL = "https://web.archive.org"

	// DefaultAvailabilityURL is the Wayback availability API.
	DefaultAvailabilityURL = "https://archive.org/wayback/available"

	// DefaultBranch is the only branch AUR accepts.
	DefaultBranch = "master"

	// DefaultSSHKeyPath is used when neither the file nor SSH_KEY_PATH set one.
	DefaultSSHKeyPath = "~/.ssh/id_ed25519"

	// SSHKeyEnv overrides SSHKeyPath from the environment.
	SSHKeyEnv = "SSH_KEY_PATH"

	// DefaultTimeout is the default duration for a single HTTP call.
	DefaultTimeout = 60 * time.Second

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// aurRemoteTemplate is the AUR git remote for a package.
	aurRemoteTemplate = "ssh://aur@aur.archlinux.org/%s.git"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errPackageNameRequired is returned when the package name is empty.
	errPackageNameRequired = errors.New("package name must be provided")
	// errInvalidSourceURL is returned when the upstream URL is not http(s).
	errInvalidSourceURL = errors.New("source url must be an absolute http or https url")
	// errInvalidEndpoint is returned when an archive endpoint is not http(s).
	errInvalidEndpoint = errors.New("archive endpoint must be an absolute http or https url")
	// errWorkDirRequired is returned when no working copy path is known.
	errWorkDirRequired = errors.New("work directory must be provided")
	// errSSHKeyMissing is returned when an SSH remote is configured without a readable key.
	errSSHKeyMissing = errors.New("ssh key not found")
	// errInvalidPoll is returned for negative or inconsistent polling settings.
	errInvalidPoll = errors.New("invalid poll settings")
)

// Default returns the configuration of the KEYDB package with every default applied.
func Default() *Config {
	cfg := &Config{
		PackageName:        DefaultPackageName,
		PackageDescription: "Contains the Key Database for the AACS Library (Daily Updates)",
		Homepage:           "http://fvonline-db.bplaced.net/",
		Depends:            []string{"libaacs"},
		InstallSource:      "keydb.cfg",
		InstallPath:        "etc/xdg/aacs/KEYDB.cfg",
		SourceURL:          DefaultSourceURL,
	}

	applyDefaults(cfg)

	return cfg
}

// Read decodes configuration and applies environment overrides without
// validating, so callers can layer flags on top first. An empty path reads
// DefaultConfigFilename and falls back to Default when that file is absent.
func Read(path string) (*Config, error) {
	optional := path == ""
	if optional {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			ApplyEnv(cfg)

			return cfg, nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	ApplyEnv(&cfg)

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills defaults and checks the settings, failing fast before a run starts.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	applyDefaults(cfg)

	if cfg.PackageName == "" {
		return errPackageNameRequired
	}

	if !isHTTPURL(cfg.SourceURL) {
		return fmt.Errorf("%q: %w", cfg.SourceURL, errInvalidSourceURL)
	}

	for _, endpoint := range []string{cfg.ArchiveBaseURL, cfg.AvailabilityURL} {
		if !isHTTPURL(endpoint) {
			return fmt.Errorf("%q: %w", endpoint, errInvalidEndpoint)
		}
	}

	if cfg.WorkDir == "" {
		return errWorkDirRequired
	}

	if err := validatePoll(&cfg.Poll); err != nil {
		return err
	}

	if IsSSHRemote(cfg.RemoteURL) {
		if _, err := os.Stat(cfg.SSHKeyPath); err != nil {
			return fmt.Errorf("%s: %w", cfg.SSHKeyPath, errSSHKeyMissing)
		}
	}

	return nil
}

// IsSSHRemote reports whether remote is reached over SSH.
func IsSSHRemote(remote string) bool {
	if strings.HasPrefix(remote, "ssh://") {
		return true
	}

	// scp-like syntax: user@host:path.
	at := strings.Index(remote, "@")
	colon := strings.Index(remote, ":")

	return at > 0 && colon > at && !strings.Contains(remote, "://")
}

// applyDefaults fills every empty field with its default.
func applyDefaults(cfg *Config) {
	if cfg.ArchiveBaseURL == "" {
		cfg.ArchiveBaseURL = DefaultArchiveBaseURL
	}

	if cfg.AvailabilityURL == "" {
		cfg.AvailabilityURL = DefaultAvailabilityURL
	}

	if cfg.Branch == "" {
		cfg.Branch = DefaultBranch
	}

	if cfg.RemoteURL == "" && cfg.PackageName != "" {
		cfg.RemoteURL = fmt.Sprintf(aurRemoteTemplate, cfg.PackageName)
	}

	if cfg.WorkDir == "" && cfg.PackageName != "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "aur-"+cfg.PackageName)
	}

	if cfg.SSHKeyPath == "" {
		cfg.SSHKeyPath = DefaultSSHKeyPath
	}

	cfg.SSHKeyPath = expandHome(cfg.SSHKeyPath)
	cfg.WorkDir = expandHome(cfg.WorkDir)

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	applyPollDefaults(&cfg.Poll)
}

func applyPollDefaults(poll *PollConfig) {
	if poll.InitialDelay == 0 {
		poll.InitialDelay = 15 * time.Second
	}

	if poll.Interval == 0 {
		poll.Interval = 5 * time.Second
	}

	if poll.Multiplier == 0 {
		poll.Multiplier = 1
	}

	if poll.MaxInterval == 0 {
		poll.MaxInterval = time.Minute
	}

	if poll.MaxAttempts == 0 {
		poll.MaxAttempts = 5
	}

	if poll.MaxWait == 0 {
		poll.MaxWait = 2 * time.Minute
	}
}

func validatePoll(poll *PollConfig) error {
	switch {
	case poll.InitialDelay < 0, poll.Interval < 0, poll.MaxInterval < 0, poll.MaxWait < 0:
		return fmt.Errorf("%w: durations must not be negative", errInvalidPoll)
	case poll.Multiplier < 1:
		return fmt.Errorf("%w: multiplier must be at least 1", errInvalidPoll)
	case poll.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be positive", errInvalidPoll)
	}

	return nil
}

func isHTTPURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}

	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
