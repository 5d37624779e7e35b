// Package content is the read side of the period buckets: captions and the
// operator-defined image order of each period directory.
//
// Layout under the content root:
//
//	<root>/<period>/captions.csv   rows of id,text (first *.csv in the directory)
//	<root>/<period>/*.jpg|png|...  images
//
// The image order is an explicit permutation kept in the repository under
// "image_order.<period>". It is reconciled with the directory on every read:
// stale names are pruned and new files are appended sorted by name.
package content
