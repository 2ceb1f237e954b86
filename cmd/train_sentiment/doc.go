// Package main fine-tunes a sentiment classifier on a labeled text corpus.
// Run one process per rank; WORLD_SIZE, RANK, MASTER_ADDR and MASTER_PORT
// describe the group, rank 0 hosts the collective service. With a single
// process the run needs no group at all.
package main
