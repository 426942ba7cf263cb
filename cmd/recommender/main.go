// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/araddon/dateparse"
	"github.com/deliverhub/recommender/base/json"
	"github.com/deliverhub/recommender/base/log"
	"github.com/deliverhub/recommender/cmd/version"
	"github.com/deliverhub/recommender/config"
	"github.com/deliverhub/recommender/engine"
	"github.com/deliverhub/recommender/logics"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:   "recommender",
	Short: "Hybrid recommender for a delivery marketplace.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
			_, _ = fmt.Fprint(cmd.OutOrStdout(), version.BuildInfo())
			return nil
		}
		return cmd.Help()
	},
}

var fitCommand = &cobra.Command{
	Use:   "fit",
	Short: "Fit models from the data store and save the artifact.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := setup(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		if err = s.engine.Refresh(cmd.Context()); err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(s.engine.SaveArtifact(cmd.Context()))
	},
}

var recommendCommand = &cobra.Command{
	Use:   "recommend",
	Short: "Recommend items for a user from the saved artifact.",
	RunE: func(cmd *cobra.Command, args []string) error {
		userId, _ := cmd.Flags().GetString("user")
		businessId, _ := cmd.Flags().GetString("business")
		n, _ := cmd.Flags().GetInt("n")
		weather, _ := cmd.Flags().GetString("weather")
		at, _ := cmd.Flags().GetString("time")
		requestContext := &logics.RequestContext{Time: time.Now(), Weather: weather}
		if at != "" {
			t, err := dateparse.ParseAny(at)
			if err != nil {
				return errors.Annotatef(err, "parse time %v", at)
			}
			requestContext.Time = t
		}
		s, err := setup(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		if err = s.engine.LoadArtifact(cmd.Context()); err != nil {
			return errors.Trace(err)
		}
		recommendations, err := s.engine.Recommend(cmd.Context(), logics.RecommendRequest{
			UserId:     userId,
			BusinessId: businessId,
			Context:    requestContext,
			N:          n,
		})
		if err != nil {
			return errors.Trace(err)
		}
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header("item_id", "score", "type", "source")
		for _, r := range recommendations {
			if err = table.Append([]string{r.ItemId, formatScore(r.Score), string(r.Type), r.Source}); err != nil {
				return errors.Trace(err)
			}
		}
		return errors.Trace(table.Render())
	},
}

var similarCommand = &cobra.Command{
	Use:   "similar",
	Short: "Show items similar to an item or users similar to a user.",
	RunE: func(cmd *cobra.Command, args []string) error {
		itemId, _ := cmd.Flags().GetString("item")
		userId, _ := cmd.Flags().GetString("user")
		n, _ := cmd.Flags().GetInt("n")
		if (itemId == "") == (userId == "") {
			return errors.NotValidf("exactly one of --item and --user")
		}
		s, err := setup(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		if err = s.engine.LoadArtifact(cmd.Context()); err != nil {
			return errors.Trace(err)
		}
		var rows [][]string
		if itemId != "" {
			neighbors, err := s.engine.SimilarItems(itemId, n)
			if err != nil {
				return errors.Trace(err)
			}
			for _, neighbor := range neighbors {
				rows = append(rows, []string{neighbor.Id, formatScore(float64(neighbor.Similarity))})
			}
		} else {
			scores, err := s.engine.SimilarUsers(userId, n)
			if err != nil {
				return errors.Trace(err)
			}
			for _, score := range scores {
				rows = append(rows, []string{score.Id, formatScore(float64(score.Score))})
			}
		}
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header("id", "similarity")
		if err = table.Bulk(rows); err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(table.Render())
	},
}

var workerCommand = &cobra.Command{
	Use:   "worker",
	Short: "Refresh models periodically and expose metrics and progress.",
	RunE: func(cmd *cobra.Command, args []string) error {
		address, _ := cmd.Flags().GetString("metrics-address")
		s, err := setup(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/progress", progressHandler(s.engine))
		server := &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			log.Logger().Info("start metrics server", zap.String("address", address))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Logger().Error("failed to serve metrics", zap.Error(err))
			}
		}()
		err = s.engine.Run(ctx)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Logger().Error("failed to shutdown metrics server", zap.Error(shutdownErr))
		}
		log.Logger().Info("stop worker successfully")
		return errors.Trace(err)
	},
}

func progressHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		text, err := json.MarshalString(e.Progress())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(text))
	}
}

func setup(cmd *cobra.Command) (*services, error) {
	configPath, _ := cmd.Flags().GetString("config")
	log.Logger().Info("load config", zap.String("config", configPath))
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, errors.Annotate(err, "load config")
	}
	return openServices(cfg)
}

func formatScore(score float64) string {
	return strings.TrimRight(strings.TrimRight(strconv.FormatFloat(score, 'f', 4, 64), "0"), ".")
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.Flags().BoolP("version", "v", false, "show version")

	recommendCommand.Flags().String("user", "", "user id")
	recommendCommand.Flags().String("business", "", "restrict trending items to a business")
	recommendCommand.Flags().IntP("n", "n", 10, "number of recommendations")
	recommendCommand.Flags().String("weather", "", "current weather, e.g. rainy or hot")
	recommendCommand.Flags().String("time", "", "request time, defaults to now")
	_ = recommendCommand.MarkFlagRequired("user")

	similarCommand.Flags().String("item", "", "item id")
	similarCommand.Flags().String("user", "", "user id")
	similarCommand.Flags().IntP("n", "n", 10, "number of neighbors")

	workerCommand.Flags().String("metrics-address", ":8088", "address of the metrics endpoint")

	rootCommand.AddCommand(fitCommand, recommendCommand, similarCommand, workerCommand)
}

func main() {
	if err := rootCommand.ExecuteContext(context.Background()); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
