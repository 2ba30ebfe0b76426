// Package artifacts writes the decoy files a miner install would leave
// behind: a config.json, a placeholder xmrig binary and an AWS-styled
// HTML page carrying credential-shaped strings. Every write is
// best-effort and existing files are never overwritten.
package artifacts

import (
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/bardlex/cryptodecoy/internal/flavor"
	"github.com/bardlex/cryptodecoy/pkg/errors"
)

// Subdirectories created under the artifact root
var Subdirs = []string{"logs", "configs", "bins"}

// PlaceholderBinary is the content of bins/xmrig. It is a comment-only
// script and is written without the execute bit.
const PlaceholderBinary = "#!/bin/bash\n# XMRig Miner v6.16.2\n# Copyright (c) 2021-2023\n# OpenCL/CUDA Miner\n"

// Params are the values written into the config descriptor
type Params struct {
	Wallet  string
	Worker  string
	Algo    string
	Threads int
	UseGPU  bool
}

// Result lists what Scaffold wrote and what it left alone
type Result struct {
	Written []string
	Skipped []string
}

// Scaffold creates the decoy tree under dir. It keeps going after a
// failure and returns all failures joined; callers log them and carry on.
func Scaffold(dir string, p Params, r *rand.Rand) (Result, error) {
	var res Result
	var errs []error

	for _, sub := range Subdirs {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			errs = append(errs, errors.Wrap(err, errors.ErrorTypeArtifact, "create_dir",
				"failed to create artifact directory").WithContext("dir", sub))
		}
	}

	config, err := configJSON(dir, p)
	if err != nil {
		errs = append(errs, err)
	}

	files := []struct {
		path    string
		content []byte
		mode    fs.FileMode
	}{
		{filepath.Join(dir, "configs", "config.json"), config, 0o644},
		{filepath.Join(dir, "bins", "xmrig"), []byte(PlaceholderBinary), 0o644},
		{filepath.Join(dir, "configs", profileFilename(r)), []byte(profilePage(r)), 0o644},
	}

	for _, f := range files {
		if f.content == nil {
			continue
		}
		written, err := writeOnce(f.path, f.content, f.mode)
		switch {
		case err != nil:
			errs = append(errs, err)
		case written:
			res.Written = append(res.Written, f.path)
		default:
			res.Skipped = append(res.Skipped, f.path)
		}
	}

	return res, stdErrors.Join(errs...)
}

// writeOnce creates path with content unless it already exists
func writeOnce(path string, content []byte, mode fs.FileMode) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if stdErrors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeArtifact, "write_file",
			"failed to create artifact").WithContext("path", path)
	}

	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return false, errors.Wrap(err, errors.ErrorTypeArtifact, "write_file",
			"failed to write artifact").WithContext("path", path)
	}
	if err := f.Close(); err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeArtifact, "write_file",
			"failed to close artifact").WithContext("path", path)
	}
	return true, nil
}

type poolConfig struct {
	URL       string `json:"url"`
	User      string `json:"user"`
	Pass      string `json:"pass"`
	Worker    string `json:"worker"`
	Algorithm string `json:"algorithm"`
}

type minerConfig struct {
	Pools []poolConfig `json:"pools"`
	CPU   struct {
		Enabled  bool `json:"enabled"`
		Threads  int  `json:"threads"`
		Priority int  `json:"priority"`
	} `json:"cpu"`
	OpenCL struct {
		Enabled  bool    `json:"enabled"`
		Platform string  `json:"platform"`
		Loader   *string `json:"loader"`
		ADL      bool    `json:"adl"`
	} `json:"opencl"`
	CUDA struct {
		Enabled bool    `json:"enabled"`
		Loader  *string `json:"loader"`
		NVML    bool    `json:"nvml"`
	} `json:"cuda"`
	DonateLevel int    `json:"donate-level"`
	LogFile     string `json:"log-file"`
	Retries     int    `json:"retries"`
	RetryPause  int    `json:"retry-pause"`
	Watchdog    bool   `json:"watchdog"`
}

func configJSON(dir string, p Params) ([]byte, error) {
	var cfg minerConfig
	cfg.Pools = []poolConfig{{
		URL:       "stratum+tcp://us1.ethermine.org:4444",
		User:      p.Wallet,
		Pass:      "x",
		Worker:    p.Worker,
		Algorithm: p.Algo,
	}}
	cfg.CPU.Enabled = true
	cfg.CPU.Threads = p.Threads
	cfg.CPU.Priority = 5
	cfg.OpenCL.Enabled = p.UseGPU
	cfg.OpenCL.Platform = "AMD"
	cfg.OpenCL.ADL = true
	cfg.CUDA.Enabled = p.UseGPU
	cfg.CUDA.NVML = true
	cfg.DonateLevel = 1
	cfg.LogFile = filepath.Join(dir, "logs", "miner.log")
	cfg.Retries = 5
	cfg.RetryPause = 5
	cfg.Watchdog = true

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeArtifact, "encode_config",
			"failed to encode miner config")
	}
	return data, nil
}

// profileFilename mimics an AWS console download name
func profileFilename(r *rand.Rand) string {
	account := 100000000 + r.Intn(900000000)
	id := flavor.RandomHex(r, 8)
	return fmt.Sprintf("%d%s-Instance-Profile-Enforcement-%s-9d6a-4e5d-b%s.html",
		account, id, id, flavor.RandomHex(r, 12))
}

func profilePage(r *rand.Rand) string {
	creds := flavor.NewCredentials(r)
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <title>AWS Instance Profile Enforcement</title>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <script>
        var accessKey = "%s";
        var secretKey = "%s";

        function checkInstanceProfile() {
            console.log("Checking instance profile...");
            setTimeout(function() {
                document.getElementById("status").innerHTML = "Instance profile verified";
                startMining();
            }, 2000);
        }

        function startMining() {
            console.log("Starting mining process...");
        }
    </script>
</head>
<body onload="checkInstanceProfile()">
    <h1>AWS Instance Profile Verification</h1>
    <div id="status">Checking instance profile...</div>
    <div id="mining-status">Waiting for verification...</div>
</body>
</html>
`, creds.AccessKey, creds.SecretKey)
}
