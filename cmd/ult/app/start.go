// Copyright 2019 The go-ultiledger Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package app

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mfaulk/mobilecoin/log"
	"github.com/mfaulk/mobilecoin/metrics"
	"github.com/mfaulk/mobilecoin/node"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the node with config",
	Long: `Start a validator node with specified configuration, the node resumes
after the last closed slot saved in its database. Signed statements are
exchanged as base58 lines on stdin and stdout:

  stmt <envelope>       statement received from a peer
  nominate <tx hash>... propose the tx hashes for the next slot`,
	Run: func(cmd *cobra.Command, args []string) {
		// read in config file
		if cfgFile == "" {
			log.Fatal(errors.New("config file not provided"))
		}
		v := viper.New()
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			log.Fatal(err)
		}
		// init node config from viper
		c, err := node.NewConfig(v)
		if err != nil {
			log.Fatal(err)
		}
		log.Init(log.Config{File: c.LogFile, MaxSize: 100, MaxBackups: 10, MaxAge: 30, Debug: c.Debug})
		defer log.Sync()

		n, err := node.NewNode(c, newLineTransport(os.Stdout), nil)
		if err != nil {
			log.Fatalf("create node failed: %v", err)
		}
		ms := metrics.NewServer(c.MetricsAddr)
		if err := ms.Start(); err != nil {
			log.Fatalf("start metrics server failed: %v", err)
		}
		n.Start()

		go func() {
			if err := readCommands(os.Stdin, n); err != nil {
				log.Errorf("read commands failed: %v", err)
			}
		}()

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		<-sigs

		n.Stop()
		if err := ms.Stop(); err != nil {
			log.Warnf("stop metrics server failed: %v", err)
		}
	},
}

var cfgFile string

func init() {
	startCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "path of the config file")
	startCmd.MarkFlagRequired("config")
	rootCmd.AddCommand(startCmd)
}
