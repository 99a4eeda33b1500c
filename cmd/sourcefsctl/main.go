package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	ctl "github.com/sourcefs/sourcefs/internal/server"
)

const usage = `Usage: sourcefsctl [flags] <command> [args]

Commands:
  mount <mount-point> <client-dir>   attach a working copy
  unmount <mount-point>              detach a working copy
  list                               list active mounts
  status                             show daemon status
`

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/sourcefs"
	}
	return filepath.Join(home, ".sourcefs")
}

func main() {
	dataDir := flag.String("data-dir", defaultDataDir(), "Daemon state directory")
	address := flag.String("address", "", "Daemon control address (default <data-dir>/socket)")
	timeout := flag.Duration("timeout", 5*time.Second, "Connection timeout")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	client, err := ctl.Dial(*address, *dataDir, *timeout)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer func() { _ = client.Close() }()

	switch args[0] {
	case "mount":
		if len(args) != 3 {
			flag.Usage()
			os.Exit(2)
		}
		req := ctl.MountRequest{MountPoint: args[1], ClientDir: args[2]}
		if err := client.Call("mount", req, nil); err != nil {
			log.Fatalf("Mount failed: %v", err)
		}
		fmt.Printf("Mounted %s\n", args[1])

	case "unmount":
		if len(args) != 2 {
			flag.Usage()
			os.Exit(2)
		}
		params := map[string]string{"mount_point": args[1]}
		if err := client.Call("unmount", params, nil); err != nil {
			log.Fatalf("Unmount failed: %v", err)
		}
		fmt.Printf("Unmounted %s\n", args[1])

	case "list":
		var mounts []ctl.MountStatus
		if err := client.Call("list_mounts", nil, &mounts); err != nil {
			log.Fatalf("List failed: %v", err)
		}
		if len(mounts) == 0 {
			fmt.Println("No active mounts")
			return
		}
		for _, m := range mounts {
			fmt.Printf("%s\tloaded=%d\tunloaded=%d\n", m.MountPoint, m.LoadedCount, m.UnloadedCount)
		}

	case "status":
		var status ctl.StatusInfo
		if err := client.Call("status", nil, &status); err != nil {
			log.Fatalf("Status failed: %v", err)
		}
		fmt.Printf("pid: %d\n", status.Pid)
		fmt.Printf("uptime: %s\n", time.Duration(status.UptimeSecs)*time.Second)
		fmt.Printf("mounts: %d\n", status.MountCount)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
}
