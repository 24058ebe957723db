// vaultctl is the client side of the vault: every key derivation, seal,
// open, and rewrap happens in this process. The server only ever
// receives enrollment records, SRP messages, and sealed blobs. With
// --store the server drops out entirely and the same engine runs
// against a local directory.
package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/archwes/ZeroGuard-sub001/internal/auth"
	"github.com/archwes/ZeroGuard-sub001/internal/crypto"
	"github.com/archwes/ZeroGuard-sub001/internal/rotation"
	"github.com/archwes/ZeroGuard-sub001/internal/session"
	"github.com/archwes/ZeroGuard-sub001/internal/storage"
	"github.com/archwes/ZeroGuard-sub001/internal/vault"
)

var (
	flagServer   string
	flagIdentity string
	flagStore    string
)

func main() {
	root := &cobra.Command{
		Use:           "vaultctl",
		Short:         "zero-knowledge vault client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagServer, "server", "http://localhost:8444", "vaultd base URL")
	root.PersistentFlags().StringVarP(&flagIdentity, "identity", "i", "", "account identity")
	root.PersistentFlags().StringVar(&flagStore, "store", "", "local vault directory (embedded mode, no server)")

	root.AddCommand(enrollCmd(), addCmd(), getCmd(), listCmd(), rmCmd(), rotateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func enrollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enroll",
		Short: "create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagIdentity == "" {
				return errors.New("--identity required")
			}
			pw, err := promptNewPassword(flagIdentity)
			if err != nil {
				return err
			}
			if flagStore != "" {
				svc := vault.NewService(storage.NewFileStore(flagStore))
				if err := svc.Enroll(cmd.Context(), flagIdentity, pw); err != nil {
					return err
				}
				fmt.Println("enrolled", flagIdentity)
				return nil
			}
			acct, err := vault.NewEnrollment(flagIdentity, pw, crypto.DefaultKDF())
			if err != nil {
				return err
			}
			api := newAPIClient(flagServer)
			if err := api.enroll(enrollReq{
				Identity: acct.Identity,
				Salt:     acct.Salt,
				Verifier: acct.Verifier,
				KDF:      kdfWire{M: acct.KDF.M, T: acct.KDF.T, P: acct.KDF.P},
			}); err != nil {
				return err
			}
			fmt.Println("enrolled", acct.Identity)
			return nil
		},
	}
}

func addCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "seal a new item from stdin and store it",
		Long:  "Reads the item payload (any bytes, typically JSON) from stdin, seals it locally, and stores the envelope.",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
			if err != nil {
				return err
			}
			if len(payload) == 0 {
				return errors.New("empty payload on stdin")
			}

			if flagStore != "" {
				lv, err := openLocalPrompt(cmd.Context())
				if err != nil {
					return err
				}
				defer lv.Close()
				id, err := lv.svc.AddItem(cmd.Context(), lv.sess, kind, payload)
				if err != nil {
					return err
				}
				fmt.Println(id)
				return nil
			}

			api, sess, err := loginPrompt()
			if err != nil {
				return err
			}
			defer sess.Close()
			mek, err := sess.MEK()
			if err != nil {
				return err
			}
			env, err := crypto.SealItem(payload, mek)
			if err != nil {
				return err
			}
			now := time.Now().Unix()
			id := uuid.NewString()
			if err := api.putItem(envelopeWire{
				ID:         id,
				Kind:       kind,
				Data:       crypto.PackData(env),
				WrappedKey: crypto.PackWrappedKey(env),
				Created:    now,
				Updated:    now,
				Version:    1,
			}); err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "login", "item kind")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "fetch an item and print its plaintext",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagStore != "" {
				lv, err := openLocalPrompt(cmd.Context())
				if err != nil {
					return err
				}
				defer lv.Close()
				pt, err := lv.svc.GetItem(cmd.Context(), lv.sess, args[0])
				if err != nil {
					return err
				}
				printPlaintext(pt)
				return nil
			}

			api, sess, err := loginPrompt()
			if err != nil {
				return err
			}
			defer sess.Close()

			wire, err := api.getItem(args[0])
			if err != nil {
				return err
			}
			var env crypto.SealedEnvelope
			if err := crypto.ParseData(wire.Data, &env); err != nil {
				return err
			}
			if err := crypto.ParseWrappedKey(wire.WrappedKey, &env); err != nil {
				return err
			}
			mek, err := sess.MEK()
			if err != nil {
				return err
			}
			pt, err := crypto.OpenItem(env, mek)
			if err != nil {
				return err
			}
			printPlaintext(pt)
			return nil
		},
	}
}

func printPlaintext(pt []byte) {
	os.Stdout.Write(pt)
	if !bytes.HasSuffix(pt, []byte("\n")) {
		fmt.Println()
	}
	crypto.Zero(pt)
}

func listCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list stored items",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagStore != "" {
				lv, err := openLocalPrompt(cmd.Context())
				if err != nil {
					return err
				}
				defer lv.Close()
				metas, err := lv.svc.List(cmd.Context(), lv.sess, kind)
				if err != nil {
					return err
				}
				for _, m := range metas {
					fmt.Printf("%s\t%s\tv%d\t%s\n", m.ID, m.Kind, m.Version, time.Unix(m.Updated, 0).Format(time.RFC3339))
				}
				return nil
			}

			api, sess, err := loginPrompt()
			if err != nil {
				return err
			}
			sess.Close() // listing never decrypts

			items, err := api.listItems(kind)
			if err != nil {
				return err
			}
			for _, it := range items {
				fmt.Printf("%s\t%s\tv%d\t%s\n", it.ID, it.Kind, it.Version, time.Unix(it.Updated, 0).Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind")
	return cmd
}

func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "delete an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagStore != "" {
				lv, err := openLocalPrompt(cmd.Context())
				if err != nil {
					return err
				}
				defer lv.Close()
				return lv.svc.DeleteItem(cmd.Context(), lv.sess, args[0])
			}

			api, sess, err := loginPrompt()
			if err != nil {
				return err
			}
			sess.Close()
			return api.deleteItem(args[0])
		},
	}
}

func rotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "change the master password, rewrapping every item key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagStore != "" {
				return rotateLocal(cmd.Context())
			}

			api, sess, err := loginPrompt()
			if err != nil {
				return err
			}
			defer sess.Close()

			newPw, err := promptNewPassword(flagIdentity)
			if err != nil {
				return err
			}
			// keep the enrolled cost parameters across the change
			cur, err := api.account()
			if err != nil {
				crypto.Zero(newPw)
				return err
			}
			acct, err := vault.NewEnrollment(flagIdentity, append([]byte(nil), newPw...), cur.KDF.params())
			if err != nil {
				crypto.Zero(newPw)
				return err
			}
			newKeys, err := crypto.DeriveKeys(newPw, acct.Salt, acct.KDF)
			if err != nil {
				return err
			}
			defer newKeys.Wipe()

			items, err := api.listItems("")
			if err != nil {
				return err
			}
			batch := make([]rotation.Envelope, 0, len(items))
			for _, it := range items {
				var env crypto.SealedEnvelope
				if err := crypto.ParseWrappedKey(it.WrappedKey, &env); err != nil {
					return fmt.Errorf("item %s: %w", it.ID, err)
				}
				batch = append(batch, rotation.Envelope{ID: it.ID, Envelope: env})
			}

			oldMEK, err := sess.MEK()
			if err != nil {
				return err
			}
			rewrapped, err := rotation.Rotate(cmd.Context(), oldMEK, &newKeys.MEK, batch)
			if err != nil {
				return err
			}
			wraps := make([]rewrapWire, len(rewrapped))
			for i, rw := range rewrapped {
				var env crypto.SealedEnvelope
				env.WrappedKey, env.KeyNonce, env.KeyTag = rw.WrappedKey, rw.KeyNonce, rw.KeyTag
				wraps[i] = rewrapWire{ID: rw.ID, WrappedKey: crypto.PackWrappedKey(env)}
			}

			if err := api.rotate(rotateReq{
				Salt:     acct.Salt,
				Verifier: acct.Verifier,
				KDF:      kdfWire{M: acct.KDF.M, T: acct.KDF.T, P: acct.KDF.P},
				Wraps:    wraps,
			}); err != nil {
				return err
			}
			fmt.Printf("rotated %d item(s)\n", len(wraps))
			return nil
		},
	}
}

func rotateLocal(ctx context.Context) error {
	pw, err := promptSecret("Master password: ")
	if err != nil {
		return err
	}
	lv, err := openLocal(ctx, flagStore, flagIdentity, append([]byte(nil), pw...))
	if err != nil {
		crypto.Zero(pw)
		return err
	}
	defer lv.Close()

	newPw, err := promptNewPassword(flagIdentity)
	if err != nil {
		crypto.Zero(pw)
		return err
	}
	if err := lv.svc.RotateMaster(ctx, lv.sess, pw, newPw); err != nil {
		return err
	}
	fmt.Println("rotated")
	return nil
}

// loginPrompt asks for the master password and runs the SRP handshake.
// The returned session owns the MEK; the caller must Close it.
func loginPrompt() (*apiClient, *session.Session, error) {
	if flagIdentity == "" {
		return nil, nil, errors.New("--identity required")
	}
	pw, err := promptSecret("Master password: ")
	if err != nil {
		return nil, nil, err
	}
	api := newAPIClient(flagServer)
	sess, err := api.login(flagIdentity, pw)
	if err != nil {
		return nil, nil, err
	}
	return api, sess, nil
}

// promptNewPassword reads a password twice and gates it on the
// strength policy before any derivation work happens.
func promptNewPassword(identity string) ([]byte, error) {
	pw, err := promptSecret("New master password: ")
	if err != nil {
		return nil, err
	}
	if err := auth.CheckMasterPassword(string(pw), identity); err != nil {
		crypto.Zero(pw)
		return nil, err
	}
	again, err := promptSecret("Repeat: ")
	if err != nil {
		crypto.Zero(pw)
		return nil, err
	}
	defer crypto.Zero(again)
	if !bytes.Equal(pw, again) {
		crypto.Zero(pw)
		return nil, errors.New("passwords do not match")
	}
	return pw, nil
}

func promptSecret(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return pw, err
	}
	// stdin carries the payload when piped; ask the terminal directly
	if tty, err := os.Open("/dev/tty"); err == nil {
		defer tty.Close()
		pw, err := term.ReadPassword(int(tty.Fd()))
		fmt.Fprintln(os.Stderr)
		return pw, err
	}
	// no terminal at all: one line from stdin
	br := bufio.NewReader(os.Stdin)
	line, err := br.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}
