package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactively generate a config.yaml file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile := "config.yaml"
		if cfgFile != "" {
			configFile = cfgFile
		}

		if _, err := os.Stat(configFile); err == nil && !initForce {
			fmt.Printf("%s already exists. Use --force to overwrite.\n", configFile)
			return nil
		}

		reader := bufio.NewReader(os.Stdin)

		fmt.Printf("Let's set up your %s!\n", configFile)

		fmt.Println("\n--- COMMON ---")
		sleep := promptDefault(reader, "Sleep between cycles in seconds, or auto (empty runs once): ", "")

		fmt.Println("\n--- IMAP ---")
		imapHost := prompt(reader, "IMAP host (e.g. imap.example.com): ")
		imapSSL := promptBool(reader, "Use implicit TLS (port 993)? [Y/n]: ", true)
		imapUser := prompt(reader, "IMAP user: ")
		imapPass := prompt(reader, "IMAP password: ")
		imapMailbox := promptDefault(reader, "Mailbox to forward [INBOX]: ", "INBOX")
		markSeen := promptBool(reader, "Mark forwarded messages as seen? [y/N]: ", false)
		moveTo := prompt(reader, "Move forwarded messages to (empty keeps them): ")
		moveFailed := prompt(reader, "Move undeliverable messages to (empty keeps them): ")

		fmt.Println("\n--- SMTP ---")
		smtpHost := prompt(reader, "SMTP host (e.g. smtp.example.com): ")
		smtpPort := promptDefault(reader, "SMTP port [587]: ", "587")
		startTLS := promptBool(reader, "Use STARTTLS? [Y/n]: ", true)
		smtpUser := prompt(reader, "SMTP user (empty skips authentication): ")
		smtpPass := ""
		if smtpUser != "" {
			smtpPass = prompt(reader, "SMTP password: ")
		}
		forwardTo := prompt(reader, "Forward all mail to: ")

		fmt.Println("\n--- STATUS SERVER ---")
		listen := prompt(reader, "Listen address (e.g. 127.0.0.1:8080, empty disables): ")
		webUser, webHash := "", ""
		if listen != "" {
			webUser = prompt(reader, "Status username (empty disables authentication): ")
			if webUser != "" {
				hash, err := bcrypt.GenerateFromPassword([]byte(prompt(reader, "Status password: ")), bcrypt.DefaultCost)
				if err != nil {
					return fmt.Errorf("failed to hash status password: %w", err)
				}
				webHash = string(hash)
			}
		}

		content := fmt.Sprintf(`common:
  sleep: %s
  sleep_var_pct: 0

imap:
  host: %s
  ssl: %t
  user: %s
  password: %s
  mailbox: %s
  mark_as_seen: %t
  move_to_mailbox: %s
  move_to_mailbox_failed: %s

smtp:
  host: %s
  port: %s
  starttls: %t
  user: %s
  password: %s
  forward_address: %s

web:
  listen: %s
  username: %s
  password_hash: %s
`, yamlString(sleep),
			yamlString(imapHost), imapSSL, yamlString(imapUser), yamlString(imapPass), yamlString(imapMailbox),
			markSeen, yamlString(moveTo), yamlString(moveFailed),
			yamlString(smtpHost), smtpPort, startTLS, yamlString(smtpUser), yamlString(smtpPass), yamlString(forwardTo),
			yamlString(listen), yamlString(webUser), yamlString(webHash))

		if err := os.WriteFile(configFile, []byte(content), 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", configFile, err)
		}

		fmt.Printf("\n✅ %s created successfully.\n", configFile)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func prompt(r *bufio.Reader, label string) string {
	fmt.Print(label)
	text, _ := r.ReadString('\n')
	return strings.TrimSpace(text)
}

func promptDefault(r *bufio.Reader, label, def string) string {
	if v := prompt(r, label); v != "" {
		return v
	}
	return def
}

func promptBool(r *bufio.Reader, label string, def bool) bool {
	switch strings.ToLower(prompt(r, label)) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	default:
		return def
	}
}

// yamlString quotes v so passwords and hashes survive YAML parsing. Empty
// values are written as an empty string.
func yamlString(v string) string {
	return fmt.Sprintf("%q", v)
}
