// Package snapkeeper creates point-in-time EBS snapshots of the volumes
// attached to your EC2 instances and stamps each one with the metadata a
// downstream cleanup job needs to expire it later.
//
// A run takes a single backup target (one volume, one attached device,
// or every non-root volume on an instance), resolves it to concrete
// volumes, and for each volume creates a snapshot, tags it, and
// optionally waits for the snapshot to complete. The root device is
// always skipped in instance-wide runs since boot volumes are rebuilt
// from images, not restored from data snapshots.
//
// Tag Schema
//
// Every snapshot gets a Backup:Device tag recording where the source
// volume was attached (or "Unattached"). When the keep flag is set it
// also gets a Backup:Expires tag whose value is an opaque marker for the
// external cleanup process; this package never deletes anything itself.
// All tags on the source volume are copied onto the snapshot too, except
// that keys in the provider-reserved "aws:" namespace are rewritten
// under a Backup: prefix because snapshots refuse them verbatim.
//
// Usage
//
// Create a snapkeeper.RunInput and pass it to this package's New method,
// then call the Start() method on the returned Run. Per-volume outcomes
// are collected in the Results field and can be exported to CSV with
// ExportResults().
//
// Sample
//
// Below is a sample main package that backs up all data volumes on an
// instance and waits for the snapshots to finish.
//
//   package main
//
//   import (
//   	"github.com/GESkunkworks/snapkeeper"
//   	"github.com/aws/aws-sdk-go/aws"
//   	"github.com/aws/aws-sdk-go/aws/session"
//   	"github.com/inconshreveable/log15"
//   )
//
//   func main() {
//   	sess := session.Must(session.NewSession(aws.NewConfig().WithRegion("us-east-1")))
//   	logger := log15.New()
//   	wait := true
//   	input := snapkeeper.RunInput{
//   		Selection: snapkeeper.ByInstance("i-1223456"),
//   		Provider:  snapkeeper.NewAWSProvider(sess),
//   		Wait:      &wait,
//   		Logger:    &logger,
//   	}
//   	run, err := snapkeeper.New(&input)
//   	if err != nil { panic(err) }
//   	err = run.Start()
//   	if err != nil { panic(err) }
//   }
package snapkeeper
