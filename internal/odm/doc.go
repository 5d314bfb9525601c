// Package odm parses OverDrive Media Marker (ODM) manifests: the media
// identifier, license endpoints, book metadata, and the ordered part list.
package odm
