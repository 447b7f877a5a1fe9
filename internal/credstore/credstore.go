// Package credstore loads bot account credentials and the account
// blacklist from disk, per the file formats in spec §6.
package credstore

import (
	"bufio"
	"os"
	"strings"
)

// Credential is one login for the bot fleet.
type Credential struct {
	Username string
	Password string
}

// LoadCredentials reads "username:password" lines, one account per line.
// Only the first ':' separates username from password since passwords may
// contain ':'. Blank lines and '#' comments are ignored.
func LoadCredentials(path string) ([]Credential, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var creds []Credential
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		creds = append(creds, Credential{
			Username: line[:idx],
			Password: line[idx+1:],
		})
	}
	return creds, scanner.Err()
}

// LoadBlacklist reads a newline-delimited set of usernames to never log in.
// Missing files are treated as an empty blacklist.
func LoadBlacklist(path string) (map[string]struct{}, error) {
	blacklist := make(map[string]struct{})

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return blacklist, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		blacklist[line] = struct{}{}
	}
	return blacklist, scanner.Err()
}

// Partition splits credentials into shards of at most perShard accounts
// each (spec §4.4 Sharding).
func Partition(creds []Credential, perShard int) [][]Credential {
	if perShard <= 0 {
		perShard = 1
	}
	var shards [][]Credential
	for i := 0; i < len(creds); i += perShard {
		end := i + perShard
		if end > len(creds) {
			end = len(creds)
		}
		shards = append(shards, creds[i:end])
	}
	return shards
}
