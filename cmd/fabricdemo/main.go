// Command fabricdemo is a small cobra CLI exercising the memory fabric
// end to end: store a value into a tier, retrieve it back, promote it
// one tier warmer, and run a prioritised search. Grounded on the
// teacher's cmd/bd convention of a persistent-flag config path threaded
// through every subcommand's RunE.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corticore/fabric"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "fabricdemo",
	Short: "fabricdemo drives the tiered memory fabric from the command line",
}

func openFabric(cmd *cobra.Command) (*fabric.Fabric, error) {
	return fabric.Open(cmd.Context(), configPath)
}

var storeCmd = &cobra.Command{
	Use:   "store <tier> <key> <json-value>",
	Short: "store a JSON value into the given tier",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := openFabric(cmd)
		if err != nil {
			return err
		}
		defer f.Cleanup()

		var value any
		if err := json.Unmarshal([]byte(args[2]), &value); err != nil {
			return fmt.Errorf("fabricdemo: invalid JSON value: %w", err)
		}

		dataID, err := f.Store(cmd.Context(), fabric.Tier(args[0]), args[1], value, nil, nil, fabric.StoreOptions{})
		if err != nil {
			return err
		}
		fmt.Println(dataID)
		return nil
	},
}

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <tier> <key>",
	Short: "retrieve a value by key from the given tier",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := openFabric(cmd)
		if err != nil {
			return err
		}
		defer f.Cleanup()

		val, err := f.Retrieve(cmd.Context(), fabric.RetrieveRequest{FromTier: fabric.Tier(args[0]), Key: args[1]})
		if err != nil {
			return err
		}
		encoded, err := json.MarshalIndent(val, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	},
}

var promoteCmd = &cobra.Command{
	Use:   "promote <source-tier> <target-tier> <key>",
	Short: "promote a value one tier warmer",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := openFabric(cmd)
		if err != nil {
			return err
		}
		defer f.Cleanup()

		req := fabric.PromoteRequest{
			SourceTier: fabric.Tier(args[0]),
			TargetTier: fabric.Tier(args[1]),
			Connector:  args[2],
			Key:        args[2],
			ColdDataID: args[2],
			WarmDataID: args[2],
			HotKey:     args[2],
		}
		newKey, err := f.Promote(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Println(newKey)
		return nil
	},
}

var searchThreshold float32
var searchK int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "run a prioritised schema search across tiers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := openFabric(cmd)
		if err != nil {
			return err
		}
		defer f.Cleanup()

		if err := f.UpdateAllSchemaIndexes(cmd.Context()); err != nil {
			return err
		}
		hits, err := f.Search(cmd.Context(), args[0], nil, searchK, searchThreshold)
		if err != nil {
			return err
		}
		encoded, err := json.MarshalIndent(hits, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "fabric.yaml", "path to the fabric configuration document")
	searchCmd.Flags().Float32Var(&searchThreshold, "threshold", 0.5, "similarity threshold in [0,1]")
	searchCmd.Flags().IntVar(&searchK, "k", 10, "max hits per tier")

	rootCmd.AddCommand(storeCmd, retrieveCmd, promoteCmd, searchCmd)
}

func main() {
	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fabricdemo:", err)
		os.Exit(1)
	}
}
