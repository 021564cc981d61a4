// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command yardmasterd is the master process of spec.md: it forks and
// supervises one listener at a time, which in turn forks and supervises
// the workers, grounded on the teacher's govisord/main.go but forking a
// listener child instead of serving an RPC handler directly in-process.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	daemon "github.com/sevlyar/go-daemon"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dierickx/yardmaster"
	"github.com/dierickx/yardmaster/statusapi"
)

var (
	showHelp    bool
	showVersion bool
	pidPath     string
	logPath     string
	listenerCmd string
	daemonize   bool

	statusAddr     string
	statusUser     string
	statusPassHash string
	tlsCert        string
	tlsKey         string
)

const version = "1.0.0"

func init() {
	flag.BoolVar(&showHelp, "h", false, "show help and exit")
	flag.BoolVar(&showHelp, "help", false, "show help and exit")
	flag.BoolVar(&showVersion, "v", false, "show version and exit")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	flag.StringVar(&pidPath, "p", "yardmasterd.pid", "pidfile path")
	flag.StringVar(&pidPath, "pidfile", "yardmasterd.pid", "pidfile path")
	flag.StringVar(&logPath, "l", "", "logfile path (rotated via lumberjack); default stderr only")
	flag.StringVar(&logPath, "logfile", "", "logfile path (rotated via lumberjack); default stderr only")
	flag.StringVar(&listenerCmd, "listener", "", "path to the listener executable")
	flag.BoolVar(&daemonize, "D", false, "daemonize")
	flag.BoolVar(&daemonize, "daemonize", false, "daemonize")

	flag.StringVar(&statusAddr, "status-addr", "", "address to serve the status API on; empty disables it")
	flag.StringVar(&statusUser, "status-user", "", "status API Basic-Auth username")
	flag.StringVar(&statusPassHash, "status-pass-hash", "", "status API Basic-Auth bcrypt password hash")
	flag.StringVar(&tlsCert, "status-cert", "", "TLS cert for the status API")
	flag.StringVar(&tlsKey, "status-key", "", "TLS key for the status API")
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: yardmasterd [flags] config-path...\n\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if showHelp {
		usage()
		return
	}
	if showVersion {
		fmt.Println("yardmasterd", version)
		return
	}

	cfg := yardmaster.DefaultConfig()
	cfg.ConfigPaths = flag.Args()
	cfg.ListenerCmd = listenerCmd

	m, err := yardmaster.NewMaster(cfg)
	if err != nil {
		log.Fatalf("yardmasterd: %v", err)
	}

	if logPath != "" {
		lj := &lumberjack.Logger{Filename: logPath, MaxSize: 100, MaxBackups: 5, MaxAge: 28}
		defer lj.Close()
		m.AddLogger(log.New(lj, "", log.LstdFlags|log.Lmicroseconds))
		// HUP reopens the log file: lumberjack moves the current file
		// aside as a backup and starts a fresh one.
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		go func() {
			for range hup {
				lj.Rotate()
			}
		}()
	} else {
		m.AddLogger(log.New(os.Stderr, "", log.LstdFlags))
	}

	pf, err := yardmaster.AcquirePidfile(pidPath)
	if err != nil {
		log.Fatalf("yardmasterd: %v", err)
	}
	defer pf.Release()

	if statusAddr != "" {
		var hash []byte
		if statusPassHash != "" {
			hash = []byte(statusPassHash)
		}
		h := statusapi.NewHandler(m, statusUser, hash)
		go func() {
			if err := statusapi.ListenAndServe(statusAddr, h, tlsCert, tlsKey); err != nil {
				m.Logger().Printf("status API stopped: %v", err)
			}
		}()
	}

	if daemonize {
		ctx := &daemon.Context{
			PidFileName: pidPath,
			LogFileName: logPath,
		}
		child, err := ctx.Reborn()
		if err != nil {
			log.Fatalf("yardmasterd: daemonize: %v", err)
		}
		if child != nil {
			return
		}
		defer ctx.Release()
	}

	if err := m.Run(nil); err != nil {
		m.Logger().Printf("yardmasterd: exiting: %v", err)
		os.Exit(1)
	}
}
