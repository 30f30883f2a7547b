// Package storage manages experiment directories on disk.
//
// Each experiment lives under the storage root in a directory named after
// its id:
//
//	<root>/<id>/
//	    environment/<step>.json              persona positions per step
//	    reverie/meta.json                     experiment configuration
//	    personas/<name>/bootstrap_memory/
//	        scratch.json                      cognitive parameters
//	        spatial_memory.json               known locations
//	        associative_memory/               copied from the templates
//
// New experiments are assembled from a templates directory holding
// reverie/ and associative_memory/ trees. The directory listing is cached
// in a cache.Store so listing does not hit the disk on every request.
package storage
