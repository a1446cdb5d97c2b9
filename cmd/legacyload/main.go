// Command legacyload migrates data from the original deployment into the
// current databases: stories from data.json into the bbolt store, and user
// rows from the old users.db SQLite file into the account store with their
// SHA-256 password hashes preserved.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"github.com/emberhollow/storywalk/pkg/accountdb"
	"github.com/emberhollow/storywalk/pkg/storydb"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func main() {
	storyJSON := flag.String("stories-json", envDefault("STORYWALK_LEGACY", ""), "Path to legacy data.json story file (env: STORYWALK_LEGACY)")
	usersDB := flag.String("users-db", envDefault("STORYWALK_LEGACY_USERS", ""), "Path to legacy users.db SQLite file (env: STORYWALK_LEGACY_USERS)")
	storyPath := flag.String("stories", envDefault("STORYWALK_STORIES", ""), "Path to bbolt story database (env: STORYWALK_STORIES)")
	accountPath := flag.String("accounts", envDefault("STORYWALK_ACCOUNTS", ""), "Path to SQLite account database (env: STORYWALK_ACCOUNTS)")
	flag.Parse()

	if *storyJSON == "" && *usersDB == "" {
		fmt.Fprintln(os.Stderr, "Usage: legacyload [-stories-json data.json -stories stories.db] [-users-db users.db -accounts accounts.db]")
		os.Exit(1)
	}

	if *storyJSON != "" {
		if *storyPath == "" {
			log.Fatal("-stories is required with -stories-json")
		}
		migrateStories(*storyJSON, *storyPath)
	}

	if *usersDB != "" {
		if *accountPath == "" {
			log.Fatal("-accounts is required with -users-db")
		}
		migrateUsers(*usersDB, *accountPath)
	}
}

func migrateStories(jsonPath, dbPath string) {
	store, err := storydb.Open(dbPath)
	if err != nil {
		log.Fatalf("Error opening story database: %v", err)
	}
	defer store.Close()

	n, err := store.ImportJSON(jsonPath)
	if err != nil {
		log.Fatalf("Error importing %s: %v", jsonPath, err)
	}
	total, _ := store.Count()
	log.Printf("Stories: imported %d new from %s, %d total in %s", n, jsonPath, total, dbPath)
}

func migrateUsers(legacyPath, accountPath string) {
	legacy, err := sql.Open("sqlite", legacyPath)
	if err != nil {
		log.Fatalf("Error opening legacy user database: %v", err)
	}
	defer legacy.Close()

	accounts, err := accountdb.Open(accountPath)
	if err != nil {
		log.Fatalf("Error opening account database: %v", err)
	}
	defer accounts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	rows, err := legacy.QueryContext(ctx,
		`SELECT username, password, first_name FROM users`)
	if err != nil {
		log.Fatalf("Error reading legacy users: %v", err)
	}
	defer rows.Close()

	var imported, skipped int
	for rows.Next() {
		var username, hexHash, firstName string
		if err := rows.Scan(&username, &hexHash, &firstName); err != nil {
			log.Fatalf("Error scanning legacy user row: %v", err)
		}
		err := accounts.CreateLegacy(firstName, username, hexHash)
		switch {
		case errors.Is(err, accountdb.ErrDuplicate):
			skipped++
		case err != nil:
			log.Fatalf("Error importing user %q: %v", username, err)
		default:
			imported++
		}
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("Error iterating legacy users: %v", err)
	}
	log.Printf("Users: imported %d from %s, skipped %d already present", imported, legacyPath, skipped)
}
