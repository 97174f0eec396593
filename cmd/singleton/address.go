package main

import (
	"fmt"

	"github.com/ngrok/singleton"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var addressCmd = &cobra.Command{
	Use:     "address <name>",
	Short:   "Print the files a name resolves to",
	Args:    cobra.ExactArgs(1),
	PreRunE: bindFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := singleton.ResolveAddress(viper.GetString("dir"), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "socket\t%s\n", addr.Socket)
		fmt.Fprintf(out, "pid\t%s\n", addr.PIDFile)
		fmt.Fprintf(out, "lock\t%s\n", addr.LockFile)
		return nil
	},
}
