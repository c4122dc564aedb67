package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/ini.v1"

	"inspectfleet/internal/shared/types"
)

// LoadIni loads the behavior configuration file (server ports, timings,
// retry table). Missing sections and keys keep their zero value; no
// defaults are applied.
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}
	overrideFromEnv(&cfg.ServerConf.AdminPass, "ADMIN_PASSWORD")
	return nil
}

// LoadAccounts reads the account list from a JSON file: an array of
// {"username","password","auth_secret"} objects.
func LoadAccounts(fileName string) ([]*types.Account, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		if os.IsNotExist(err) {
			return []*types.Account{}, nil
		}
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}

	var accounts []*types.Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal accounts file: %w", err)
	}
	return accounts, nil
}

// LoadProxyList reads proxy URLs from a text file, one per line, scheme
// http:// or socks5://. Blank lines are skipped. If the file cannot be
// read, the error is returned with a nil list; proxypool.New turns an
// empty list into a single "no proxy" group.
func LoadProxyList(fileName string) ([]string, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var urls []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return urls, nil
}

func overrideFromEnv(target *string, envName string) {
	if v := os.Getenv(envName); v != "" {
		*target = v
	}
}
