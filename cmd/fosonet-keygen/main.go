// Command fosonet-keygen generates the ECDSA root key pair a fosonet
// server signs SERVER_HELLO with, and the public half clients verify it
// against.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fosonet/fosonet/pkg/fcrypto"
	"github.com/fosonet/fosonet/pkg/flog"
)

func main() {
	var name string

	root := &cobra.Command{
		Use:   "fosonet-keygen",
		Short: "Generate a fosonet server root key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, err := fcrypto.GenerateRootKey()
			if err != nil {
				return err
			}
			if err := fcrypto.WriteRootKeyPair(name, priv); err != nil {
				return err
			}
			flog.Success("wrote %s.key and %s.pub", name, name)
			return nil
		},
	}
	root.Flags().StringVar(&name, "name", "fosonet-root", "output file basename")

	if err := root.Execute(); err != nil {
		flog.Error("%v", err)
		os.Exit(1)
	}
}
