// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package config reads and writes the local configuration of an Arrowhead system.

The configuration lives in Java style properties files. default.conf holds the
shipped defaults, app.conf overlays them and is the file which certificate
bootstrapping rewrites. Process level settings come from the environment, see
FromEnvironment.
*/
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/magiconair/properties"

	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/core/logger"
)

// Configuration keys
const (
	KeyAddress                = "address"
	KeyInsecurePort           = "insecure_port"
	KeySecurePort             = "secure_port"
	KeyKeystore               = "keystore"
	KeyKeystorePass           = "keystorepass"
	KeyKeyPass                = "keypass"
	KeyTruststore             = "truststore"
	KeyTruststorePass         = "truststorepass"
	KeyAuthorizationPublicKey = "authorization_public_key"
	KeyCertAuthorityURL       = "cert_authority_url"
	KeySecureSystemName       = "secure_system_name"
	KeyInsecureSystemName     = "insecure_system_name"
	KeyOrchAddress            = "orch_address"
	KeyOrchInsecurePort       = "orch_insecure_port"
	KeyOrchSecurePort         = "orch_secure_port"
	KeySRAddress              = "sr_address"
	KeySRInsecurePort         = "sr_insecure_port"
	KeySRSecurePort           = "sr_secure_port"
	KeyServiceName            = "service_name"
	KeyServiceURI             = "service_uri"
	KeyInterfaces             = "interfaces"
	KeyMetadata               = "metadata"
	KeyRootDomain             = "root_domain"
	KeyEHAddress              = "eh_address"
	KeyEHInsecurePort         = "eh_insecure_port"
	KeyEHSecurePort           = "eh_secure_port"
	KeyEventType              = "event_type"
	KeyEventTypes             = "event_types"
	KeyNotifyURI              = "notify_uri"
)

// File names inside the configuration directory
const (
	DefaultFile = "default.conf"
	AppFile     = "app.conf"
)

var defaultPorts = map[string]int{
	KeyInsecurePort:     8460,
	KeySecurePort:       8461,
	KeyOrchInsecurePort: 8440,
	KeyOrchSecurePort:   8441,
	KeySRInsecurePort:   8442,
	KeySRSecurePort:     8443,
	KeyEHInsecurePort:   8454,
	KeyEHSecurePort:     8455,
}

func init() {
	properties.LogPrintf = func(format string, args ...interface{}) {
		logger.Default().Debugf(format, args...)
	}
}

// Config is a loaded configuration. It is safe for concurrent use.
type Config struct {
	mutex  sync.RWMutex
	props  *properties.Properties
	files  []string
	target string
}

// Load reads default.conf and app.conf from dir. Missing files are skipped, app.conf
// is the target of Update.
func Load(dir string) (*Config, error) {
	return LoadFiles(filepath.Join(dir, DefaultFile), filepath.Join(dir, AppFile))
}

// LoadFiles reads the given properties files in order, later files overlay earlier
// ones. The last file is the target of Update.
func LoadFiles(files ...string) (*Config, error) {
	if len(files) == 0 {
		return nil, failure.Config("no configuration files given")
	}
	props, err := loader().LoadAll(files)
	if err != nil {
		return nil, failure.Wrap(failure.KindConfig, err, "cannot read configuration")
	}
	props.DisableExpansion = true
	return &Config{props: props, files: files, target: files[len(files)-1]}, nil
}

// New returns an in-memory configuration with the given values. Update is not
// available.
func New(values map[string]string) *Config {
	props := properties.NewProperties()
	props.DisableExpansion = true
	for _, k := range sortedKeys(values) {
		props.Set(k, values[k])
	}
	return &Config{props: props}
}

func loader() *properties.Loader {
	return &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true, IgnoreMissing: true}
}

// Reload reads the configuration files again
func (c *Config) Reload() (*Config, error) {
	if len(c.files) == 0 {
		return c, nil
	}
	return LoadFiles(c.files...)
}

// Path returns the file Update writes to
func (c *Config) Path() string {
	return c.target
}

// Dir returns the directory of the file Update writes to
func (c *Config) Dir() string {
	if c.target == "" {
		return "."
	}
	return filepath.Dir(c.target)
}

// Has returns true if key is set to a non-blank value
func (c *Config) Has(key string) bool {
	return strings.TrimSpace(c.String(key, "")) != ""
}

// String returns the value of key, or def
func (c *Config) String(key, def string) string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return strings.TrimSpace(c.props.GetString(key, def))
}

// Int returns the integer value of key, or def if the key is missing or not a number
func (c *Config) Int(key string, def int) int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.props.GetInt(key, def)
}

// Bool returns the boolean value of key, or def
func (c *Config) Bool(key string, def bool) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.props.GetBool(key, def)
}

// Port returns a port setting with its built-in default
func (c *Config) Port(key string) int {
	return c.Int(key, defaultPorts[key])
}

// List returns a comma separated list. Blank entries are dropped.
func (c *Config) List(key string) []string {
	var list []string
	for _, s := range strings.Split(c.String(key, ""), ",") {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}
	return list
}

// Metadata returns a map from a list of the form "k1-v1, k2-v2". An entry without a
// dash maps to an empty string.
func (c *Config) Metadata(key string) map[string]string {
	metadata := map[string]string{}
	for _, pair := range c.List(key) {
		k, v, _ := strings.Cut(pair, "-")
		metadata[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return metadata
}

// Set changes a value in memory only
func (c *Config) Set(key, value string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.props.Set(key, value)
}

// RequireFields returns a config error listing every key which is missing or blank
func (c *Config) RequireFields(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if !c.Has(k) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return failure.Config("missing configuration fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Update writes values into the target file and keeps all unrelated keys. The file
// is replaced atomically: the new content goes to a temporary file in the same
// directory which is synced and renamed over the original. The in-memory values are
// updated as well.
func (c *Config) Update(values map[string]string) error {
	if c.target == "" {
		return failure.Config("configuration has no file")
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	current, err := loader().LoadFile(c.target)
	if err != nil {
		return failure.Wrap(failure.KindConfig, err, "cannot read "+c.target)
	}
	current.DisableExpansion = true
	for _, k := range sortedKeys(values) {
		if _, _, err := current.Set(k, values[k]); err != nil {
			return failure.Wrap(failure.KindConfig, err, "cannot set "+k)
		}
	}

	var sb strings.Builder
	if _, err := current.WriteComment(&sb, "# ", properties.UTF8); err != nil {
		return failure.Wrap(failure.KindConfig, err, "cannot serialize configuration")
	}
	if err := WriteFileAtomic(c.target, []byte(sb.String()), 0600); err != nil {
		return err
	}

	for _, k := range sortedKeys(values) {
		c.props.Set(k, values[k])
	}
	return nil
}

// WriteFileAtomic replaces path with data. Readers see either the old or the new
// content, never a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return failure.Wrap(failure.KindConfig, err, "cannot create "+dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return failure.Wrap(failure.KindConfig, err, "cannot create temporary file in "+dir)
	}
	tmpName := tmp.Name()
	fail := func(err error, what string) error {
		tmp.Close()
		os.Remove(tmpName)
		return failure.Wrap(failure.KindConfig, err, fmt.Sprintf("%s %s", what, path))
	}
	if _, err := tmp.Write(data); err != nil {
		return fail(err, "cannot write")
	}
	if err := tmp.Chmod(perm); err != nil {
		return fail(err, "cannot chmod")
	}
	if err := tmp.Sync(); err != nil {
		return fail(err, "cannot sync")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return failure.Wrap(failure.KindConfig, err, "cannot close "+tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return failure.Wrap(failure.KindConfig, err, "cannot replace "+path)
	}
	return nil
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
