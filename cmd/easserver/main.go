// Command easserver loads the server configuration, constructs the
// in-memory reference collaborators, wires the command dispatcher, and
// starts the HTTP listener for the ActiveSync endpoint.
//
// The teacher has no cmd/ convention of its own (toxcore ships as a
// library with c/ and capi/ bindings, not a server binary); this
// entrypoint's shape — flag-free, config-path argument, structured
// logrus setup before anything else runs — follows the retrieval
// pack's element-hq-dendrite cmd/ binaries.
package main

import (
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/goeas/internal/config"
	"github.com/opd-ai/goeas/internal/devicestore"
	"github.com/opd-ai/goeas/internal/dispatcher"
	"github.com/opd-ai/goeas/internal/foldersync"
	"github.com/opd-ai/goeas/internal/itemoperations"
	"github.com/opd-ai/goeas/internal/mailstore"
	"github.com/opd-ai/goeas/internal/ping"
	"github.com/opd-ai/goeas/internal/provision"
	"github.com/opd-ai/goeas/internal/syncengine"
	"github.com/opd-ai/goeas/internal/syncstore"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfgPath := "easserver.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg := config.Defaults()
	if _, err := os.Stat(cfgPath); err == nil {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			log.WithError(err).Fatal("easserver: failed loading config")
		}
		cfg = loaded
	} else {
		log.WithField("path", cfgPath).Info("easserver: no config file found, using defaults")
	}

	mail := mailstore.NewStore()
	devices := devicestore.NewStore()
	store := syncstore.NewStoreWithCap(cfg.SyncedIDsCap)
	idempotent := syncstore.NewIdempotencyCache(cfg.IdempotencyCacheSize)

	syncEngine := syncengine.New(store, idempotent, mail, log)
	syncEngine.WindowSizeDefault = cfg.WindowSizeDefault
	syncEngine.WindowSizeMax = cfg.WindowSizeMax
	folderHandler := foldersync.New(foldersync.NewStore(), log)
	provisionHandler := provision.New(devices, log)
	pingEngine := ping.New(mail, mailstore.SystemClock{}, log)
	pingEngine.MinHeartbeatSeconds = cfg.MinHeartbeatSeconds
	pingEngine.MaxHeartbeatSeconds = cfg.MaxHeartbeatSeconds
	pingEngine.DefaultHeartbeatSeconds = cfg.DefaultHeartbeatSeconds
	itemOpsHandler := itemoperations.New(mail, log)

	d := dispatcher.New(syncEngine, folderHandler, provisionHandler, pingEngine, itemOpsHandler, devices, mailstore.StaticAuth{}, log)
	d.SupportedVersions = cfg.SupportedVersions

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      d.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Duration(cfg.MaxHeartbeatSeconds+30) * time.Second,
	}

	log.WithField("addr", cfg.ListenAddr).Info("easserver: listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("easserver: server exited")
	}
}
