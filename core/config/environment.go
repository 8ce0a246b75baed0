// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package config

import (
	"errors"

	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/core/logger"
)

// Environment holds the process level settings
type Environment struct {
	ConfigDir  string `env:"ARROWHEAD_CONFIG,default=config" description:"directory with default.conf and app.conf"`
	SystemName string `env:"ARROWHEAD_SYSTEM_NAME" description:"overrides secure_system_name and insecure_system_name"`
	CAURL      string `env:"ARROWHEAD_CA_URL" description:"overrides cert_authority_url"`
	TLS        bool   `env:"ARROWHEAD_TLS,default=false" description:"run in secure mode"`
	LogLevel   string `env:"ARROWHEAD_LOG_LEVEL,default=info" description:"logrus level name"`
}

// FromEnvironment decodes the process settings from the environment
func FromEnvironment() (Environment, error) {
	env := Environment{}
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return env, failure.Wrap(failure.KindConfig, err, "invalid environment")
	}
	return env, nil
}

// Level returns the configured log level
func (e Environment) Level() logrus.Level {
	return logger.ParseLevel(e.LogLevel)
}

// Apply overlays the environment settings on c. The changes are in memory only.
func (e Environment) Apply(c *Config) {
	if e.SystemName != "" {
		c.Set(KeySecureSystemName, e.SystemName)
		c.Set(KeyInsecureSystemName, e.SystemName)
	}
	if e.CAURL != "" {
		c.Set(KeyCertAuthorityURL, e.CAURL)
	}
}
