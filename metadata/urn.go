package metadata

import (
	"fmt"
	"strings"
)

const urnPrefix = "urn:li:"

// Default fabric for datasets when none is given.
const DefaultEnv = "PROD"

// MakeDataPlatformURN returns the URN of a data platform.
func MakeDataPlatformURN(platform string) string {
	if strings.HasPrefix(platform, urnPrefix) {
		return platform
	}
	return fmt.Sprintf("urn:li:dataPlatform:%s", platform)
}

// MakeDatasetURN returns the URN of a dataset on a platform.
func MakeDatasetURN(platform, name, env string) string {
	if env == "" {
		env = DefaultEnv
	}
	return fmt.Sprintf("urn:li:dataset:(%s,%s,%s)", MakeDataPlatformURN(platform), name, strings.ToUpper(env))
}

// MakeUserURN returns the URN of a user.
func MakeUserURN(username string) string {
	if strings.HasPrefix(username, urnPrefix) {
		return username
	}
	return "urn:li:corpuser:" + username
}

// MakeGroupURN returns the URN of a group.
func MakeGroupURN(group string) string {
	if strings.HasPrefix(group, urnPrefix) {
		return group
	}
	return "urn:li:corpGroup:" + group
}
