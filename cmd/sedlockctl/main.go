// Copyright (c) 2022 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"log"

	"github.com/alecthomas/kong"

	"github.com/drivetrust/tcgstorage/pkg/cmdutil"
	"github.com/drivetrust/tcgstorage/pkg/core"
	"github.com/drivetrust/tcgstorage/pkg/core/hash"
	"github.com/drivetrust/tcgstorage/pkg/locking"
)

const (
	programName = "sedlockctl"
	programDesc = "Inspect and lock/unlock TCG Storage locking ranges"
)

func hashPIN(hashMethod, pin, serial string) ([]byte, error) {
	switch hashMethod {
	case "sedutil-dta", "dta", "sha1":
		return hash.HashSedutilDTA(pin, serial), nil
	case "sedutil-sha512", "sha512":
		return hash.HashSedutil512(pin, serial), nil
	default:
		return nil, fmt.Errorf("unknown hash method %q", hashMethod)
	}
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.NamedMapper("accessiblefile", cmdutil.AccessibleFileMapper()),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	coreObj, err := core.NewCore(cli.Device.Device)
	if err != nil {
		log.Fatalf("core.NewCore: %v", err)
	}
	serial, err := coreObj.SerialNumber()
	if err != nil {
		log.Fatalf("coreObj.SerialNumber: %v", err)
	}

	var spin []byte
	if cli.Sidpin != "" {
		spin, err = hashPIN(cli.Sidhash, cli.Sidpin, string(serial))
		if err != nil {
			log.Fatalf("hashing SID pin: %v", err)
		}
	}

	var initOps []locking.InitializeOpt
	if len(spin) > 0 {
		initOps = append(initOps, locking.WithAuth(locking.DefaultAdminAuthority(spin)))
	}
	if cli.Sidpinmsid {
		initOps = append(initOps, locking.WithAuth(locking.DefaultAuthorityWithMSID))
	}

	cs, lmeta, err := locking.Initialize(coreObj, initOps...)
	if err != nil {
		log.Fatalf("locking.Initialize: %v", err)
	}
	defer cs.Close()

	password, err := cli.PasswordEmbed.GenerateHash(coreObj)
	if err != nil {
		log.Fatalf("generating locking range password hash: %v", err)
	}

	var auth locking.LockingSPAuthenticator
	if cli.User != "" {
		var ok bool
		auth, ok = locking.AuthorityFromName(cli.User, password)
		if !ok {
			log.Fatalf("authority %q is not known for this device", cli.User)
		}
	} else if len(password) == 0 {
		auth = locking.DefaultAuthorityWithMSID
	} else {
		auth = locking.DefaultAuthority(password)
	}

	l, err := locking.NewSession(cs, lmeta, auth)
	if err != nil {
		log.Fatalf("locking.NewSession: %v", err)
	}
	defer l.Close()

	err = ctx.Run(&context{session: l})
	ctx.FatalIfErrorf(err)
}
