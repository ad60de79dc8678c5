/*Command bio-bam-baindex writes a .bai index for a coordinate-sorted BAM
  file as one segment per reference sequence, running the per-reference
  shards concurrently.  It stands in for the distributed pipeline that
  normally schedules the shards: it broadcasts the header, the BAM path and
  the per-reference byte-size table to every shard, merges their metric
  deltas, and sums their no-coordinate side outputs.

  The -sizes table gives the compressed byte size of each reference's
  records inside the BAM's record region, as computed by the pipeline that
  wrote the file.  References without records are omitted.

  Usage: bio-bam-baindex -bam s3://bucket/out.bam -sizes 0:51234,1:48012,3:977
*/
package main
