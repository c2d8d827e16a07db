package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"fortgate/internal/dataType"

	"gopkg.in/yaml.v3"
)

// DefaultTokenExpirationHours applies when a host file is missing or
// carries no expiration of its own.
const DefaultTokenExpirationHours = 24

// Repository serves the enabled rule set and per-host settings. A host
// with no rules answers an empty slice, not an error; errors mean the
// backing store itself failed.
type Repository interface {
	FetchRules(host string) ([]dataType.Rule, error)
	Settings(host string) (dataType.HostSettings, error)
}

// hostFile is the on-disk shape of <rulesDir>/<host>.yml.
type hostFile struct {
	AppID                int64           `yaml:"app_id"`
	TokenExpirationHours int             `yaml:"token_expiration_hours"`
	Rules                []dataType.Rule `yaml:"rules"`
}

// FileRepository loads one yaml file per host from a rules directory.
type FileRepository struct {
	rulesDir string
}

func NewFileRepository(rulesDir string) *FileRepository {
	return &FileRepository{rulesDir: rulesDir}
}

// sanitizeHost maps a wire host to its file stem. The cache keys by the
// same stem so a file change invalidates every spelling of the host.
func sanitizeHost(host string) string {
	safe := strings.ReplaceAll(strings.ToLower(host), "/", "_")
	return strings.ReplaceAll(safe, "..", "_")
}

func (r *FileRepository) hostPath(host string) string {
	// hosts arrive from the wire; keep them from walking the filesystem
	return filepath.Join(r.rulesDir, sanitizeHost(host)+".yml")
}

func (r *FileRepository) load(host string) (*hostFile, error) {
	data, err := os.ReadFile(r.hostPath(host))
	if err != nil {
		if os.IsNotExist(err) {
			return &hostFile{TokenExpirationHours: DefaultTokenExpirationHours}, nil
		}
		return nil, fmt.Errorf("read rules for %s: %w", host, err)
	}
	var hf hostFile
	if err := yaml.Unmarshal(data, &hf); err != nil {
		return nil, fmt.Errorf("parse rules for %s: %w", host, err)
	}
	if hf.TokenExpirationHours <= 0 {
		hf.TokenExpirationHours = DefaultTokenExpirationHours
	}
	return &hf, nil
}

// FetchRules returns the enabled rules for host sorted ascending by
// priority. A missing host file is an empty rule set.
func (r *FileRepository) FetchRules(host string) ([]dataType.Rule, error) {
	hf, err := r.load(host)
	if err != nil {
		return nil, err
	}
	enabled := make([]dataType.Rule, 0, len(hf.Rules))
	for _, rule := range hf.Rules {
		if !rule.Enabled {
			continue
		}
		if rule.AppID == 0 {
			rule.AppID = hf.AppID
		}
		enabled = append(enabled, rule)
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Priority < enabled[j].Priority
	})
	return enabled, nil
}

// Settings returns per-host settings, falling back to defaults when the
// store cannot answer rather than propagating the failure.
func (r *FileRepository) Settings(host string) (dataType.HostSettings, error) {
	hf, err := r.load(host)
	if err != nil {
		return dataType.HostSettings{TokenExpirationHours: DefaultTokenExpirationHours}, err
	}
	return dataType.HostSettings{
		AppID:                hf.AppID,
		TokenExpirationHours: hf.TokenExpirationHours,
	}, nil
}
