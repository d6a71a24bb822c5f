package launcher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Kimahriman/spark-connect-proxy/internal/config"
)

func TestComposeConfigOverrideWinsAfterMerge(t *testing.T) {
	version := config.SparkVersion{
		DefaultConfigs:  map[string]string{"k": "d"},
		MergeConfigs:    map[string]string{"k": "m"},
		OverrideConfigs: map[string]string{"k": "o"},
	}

	result := composeConfig(version, map[string]string{"k": "u"}, "tok", "https://cb")

	require.Equal(t, "o", result["k"])
}

func TestComposeConfigMergeJoinsDefaultAndMergeValue(t *testing.T) {
	version := config.SparkVersion{
		DefaultConfigs: map[string]string{"k": "d"},
		MergeConfigs:   map[string]string{"k": "m"},
	}

	result := composeConfig(version, map[string]string{}, "tok", "https://cb")

	require.Equal(t, "d,m", result["k"])
}

func TestComposeConfigMergeIgnoredWhenKeyAbsent(t *testing.T) {
	version := config.SparkVersion{
		MergeConfigs: map[string]string{"k": "m"},
	}

	result := composeConfig(version, map[string]string{}, "tok", "https://cb")

	_, present := result["k"]
	require.False(t, present, "merge only acts on keys already present")
}

func TestComposeConfigInjectsSystemKeys(t *testing.T) {
	result := composeConfig(config.SparkVersion{}, nil, "tok-123", "https://cb:8100")

	require.Equal(t, "tok-123", result[tokenConfigKey])
	require.Equal(t, "https://cb:8100", result[callbackConfigKey])
	require.Equal(t, extraListenersClass, result[extraListenersKey])
	require.Equal(t, interceptorClass, result[interceptorClassKey])
	require.Equal(t, "0", result[bindingPortKey])
}

func TestBuildArgsShape(t *testing.T) {
	args := buildArgs(map[string]string{"k": "d,m"})

	require.Equal(t, []string{"--master", "local"}, args[:2])
	require.Contains(t, args, "--conf")
	require.Contains(t, args, "k=d,m")
	require.Equal(t, []string{"--jars", pluginJarPath, "--class", serverClass}, args[len(args)-4:])
}
