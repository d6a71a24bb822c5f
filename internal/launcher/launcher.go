// Package launcher resolves a configured Spark version to an installation path, composes
// its submit-time configuration, and spawns the backend subprocess.
package launcher

import (
	"fmt"
	"maps"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Kimahriman/spark-connect-proxy/internal/config"
	"github.com/Kimahriman/spark-connect-proxy/internal/logging"
)

const (
	tokenConfigKey      = "spark.connect.proxy.token"
	callbackConfigKey   = "spark.connect.proxy.callback"
	extraListenersKey   = "spark.extraListeners"
	interceptorClassKey = "spark.connect.grpc.interceptor.classes"
	bindingPortKey      = "spark.connect.grpc.binding.port"

	extraListenersClass = "org.apache.spark.sql.connect.proxy.SparkConnectProxyListener"
	interceptorClass    = "org.apache.spark.sql.connect.proxy.SparkConnectProxyInterceptor"
	pluginJarPath       = "plugin/target/scala-2.13/spark-connect-proxy_2.13-0.1.0-SNAPSHOT.jar"
	serverClass         = "org.apache.spark.sql.connect.service.SparkConnectServer"
)

// Launcher materializes a fully-formed backend-spawn command and invokes it.
type Launcher struct {
	logger       *zap.Logger
	callbackAddr string
	versions     []config.SparkVersion
}

// New builds a Launcher from the configured versions, bootstrapping a synthetic "default"
// version from SPARK_HOME or a spark-submit found on PATH if none are configured.
func New(versions []config.SparkVersion, callbackAddr string, logger *zap.Logger) (*Launcher, error) {
	logger = logger.With(logging.Component("launcher"))

	if len(versions) == 0 {
		bootstrapped, err := bootstrapDefaultVersion()
		if err != nil {
			return nil, err
		}

		versions = []config.SparkVersion{bootstrapped}
	} else {
		if err := validateVersions(versions); err != nil {
			return nil, err
		}
	}

	return &Launcher{
		versions:     versions,
		callbackAddr: callbackAddr,
		logger:       logger,
	}, nil
}

func validateVersions(versions []config.SparkVersion) error {
	defaults := 0

	for _, v := range versions {
		if v.Default {
			defaults++
		}

		if _, err := os.Stat(v.Home); err != nil {
			return fmt.Errorf("home directory not found for version %q: %w", v.Name, err)
		}
	}

	if defaults != 1 {
		return fmt.Errorf("exactly one default version must be configured, found %d", defaults)
	}

	return nil
}

func bootstrapDefaultVersion() (config.SparkVersion, error) {
	if home := os.Getenv("SPARK_HOME"); home != "" {
		return config.SparkVersion{Name: "default", Home: home, Default: true}, nil
	}

	submitPath, err := exec.LookPath("spark-submit")
	if err != nil {
		return config.SparkVersion{}, fmt.Errorf("no spark_versions configured, SPARK_HOME not set, and spark-submit not found on PATH: %w", err)
	}

	// submitPath is .../<home>/bin/spark-submit; home is its grandparent directory.
	home := filepath.Dir(filepath.Dir(submitPath))

	return config.SparkVersion{Name: "default", Home: home, Default: true}, nil
}

// Versions returns the configured version names.
func (l *Launcher) Versions() []string {
	names := make([]string, len(l.versions))
	for i, v := range l.versions {
		names[i] = v.Name
	}

	return names
}

// ErrVersionNotFound is returned by Launch when the requested named version isn't configured.
type ErrVersionNotFound struct{ Name string }

func (e *ErrVersionNotFound) Error() string {
	return fmt.Sprintf("version named %q not found", e.Name)
}

func (l *Launcher) resolveVersion(name string) (config.SparkVersion, error) {
	if name == "" {
		for _, v := range l.versions {
			if v.Default {
				return v, nil
			}
		}

		return config.SparkVersion{}, fmt.Errorf("no default version configured")
	}

	for _, v := range l.versions {
		if v.Name == name {
			return v, nil
		}
	}

	return config.SparkVersion{}, &ErrVersionNotFound{Name: name}
}

// Launch resolves versionName (or the default version if empty), composes the submit-time
// config, and spawns the backend subprocess. It returns once the subprocess has been
// successfully started; the backend registers itself asynchronously via the callback API.
func (l *Launcher) Launch(versionName, user, token string, userConfig map[string]string) error {
	version, err := l.resolveVersion(versionName)
	if err != nil {
		return err
	}

	configs := composeConfig(version, userConfig, token, l.callbackAddr)

	args := buildArgs(configs)

	submitPath := filepath.Join(version.Home, "bin", "spark-submit")

	cmd := exec.Command(submitPath, args...) //nolint:gosec // submitPath/args are operator-configured, not request-derived
	cmd.Env = mergeEnv(os.Environ(), version.Env)

	l.logger.Debug("launching backend",
		zap.String("user", user),
		zap.String("version", version.Name),
		zap.String("path", submitPath),
		zap.Strings("args", args),
	)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to spawn %s: %w", submitPath, err)
	}

	l.logger.Info("backend spawned", zap.String("user", user), zap.String("version", version.Name), zap.String("token", token))

	return nil
}

// composeConfig applies the layered composition order from spec.md §4.2:
// defaults -> user overrides -> merge-joined keys -> forced overrides -> injected system keys.
func composeConfig(version config.SparkVersion, userConfig map[string]string, token, callbackAddr string) map[string]string {
	result := make(map[string]string, len(version.DefaultConfigs)+len(userConfig))

	maps.Copy(result, version.DefaultConfigs)
	maps.Copy(result, userConfig)

	for key, mergeValue := range version.MergeConfigs {
		existing, ok := result[key]
		if !ok {
			continue
		}

		result[key] = existing + "," + mergeValue
	}

	maps.Copy(result, version.OverrideConfigs)

	result[tokenConfigKey] = token
	result[callbackConfigKey] = callbackAddr
	result[extraListenersKey] = extraListenersClass
	result[interceptorClassKey] = interceptorClass
	result[bindingPortKey] = "0"

	return result
}

func buildArgs(configs map[string]string) []string {
	args := []string{"--master", "local"}

	for key, value := range configs {
		args = append(args, "--conf", key+"="+value)
	}

	args = append(args, "--jars", pluginJarPath, "--class", serverClass)

	return args
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}

	env := make([]string, len(base), len(base)+len(overrides))
	copy(env, base)

	for k, v := range overrides {
		env = append(env, k+"="+v)
	}

	return env
}
