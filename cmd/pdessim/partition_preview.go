package main

import (
	"fmt"
	"log"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sarchlab/parallax/topo"
)

var partitionPreviewCmd = &cobra.Command{
	Use:   "partition-preview",
	Short: "Show how the automatic partitioner would split a topology file.",
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("config")
		if path == "" {
			log.Fatal("pdessim: --config is required")
		}

		fc, err := loadFileConfig(path)
		if err != nil {
			log.Fatalf("pdessim: %v", err)
		}

		result := topo.Partition(fc.graph(), fc.MinLookahead)
		fmt.Printf("system_count=%d threshold=%dps\n", result.SystemCount, result.Threshold)

		ids := make([]uint32, 0, len(result.Lookahead))
		for id := range result.Lookahead {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for _, id := range ids {
			fmt.Printf("system %d:\n", id)
			peers := result.Lookahead[id]
			peerIDs := make([]uint32, 0, len(peers))
			for peer := range peers {
				peerIDs = append(peerIDs, peer)
			}
			sort.Slice(peerIDs, func(i, j int) bool { return peerIDs[i] < peerIDs[j] })
			for _, peer := range peerIDs {
				fmt.Printf("  -> %d lookahead=%dps\n", peer, peers[peer])
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(partitionPreviewCmd)
	partitionPreviewCmd.Flags().String("config", "", "path to a topology YAML file")
}
