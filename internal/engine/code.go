package engine

import "fmt"

// Code is the result of an engine call.
type Code int32

const (
	CodeOK Code = iota
	CodeFail
	CodePathTooLong
	CodeFileNotFound

	CodeLoadM2NoFileSpecified
	CodeLoadM2CouldNotOpenFile
	CodeLoadM2FileCorrupt
	CodeLoadM2VersionNotSupported

	CodeExportM2INoFileSpecified
	CodeExportM2ICouldNotOpenFile
	CodeExportM2IM2NotLoaded

	CodeImportM2INoFileSpecified
	CodeImportM2ICouldNotOpenFile
	CodeImportM2IFileCorrupt
	CodeImportM2IUnsupportedVersion
	CodeImportM2ITooManyVertices
	CodeImportM2ISkinHasTooManyIndices

	CodeSaveM2NoFileSpecified
	CodeSaveM2CouldNotOpenFile
	CodeSaveSkinCouldNotOpenFile
	CodeSaveSkeletonCouldNotOpenFile

	CodeReplaceM2CouldNotOpenFile
	CodeReplaceM2FileCorrupt

	CodeRuleInvalidConvention
	CodeRuleInvalidData

	CodeHostFailure

	codeEnd
)

var codeText = [...]string{
	CodeOK:           "OK",
	CodeFail:         "Error: Unspecified error.",
	CodePathTooLong:  "Error: File path is too long.",
	CodeFileNotFound: "Error: File not found.",

	CodeLoadM2NoFileSpecified:     "Error: Failed to load M2, no file was specified.",
	CodeLoadM2CouldNotOpenFile:    "Error: Failed to load M2, could not open file.",
	CodeLoadM2FileCorrupt:         "Error: Failed to load M2, file is corrupt.",
	CodeLoadM2VersionNotSupported: "Error: Failed to load M2, format version is not supported.",

	CodeExportM2INoFileSpecified:  "Error: Failed to export M2I, no file was specified.",
	CodeExportM2ICouldNotOpenFile: "Error: Failed to export M2I, could not open file.",
	CodeExportM2IM2NotLoaded:      "Error: Failed to export M2I, no M2 is loaded.",

	CodeImportM2INoFileSpecified:       "Error: Failed to import M2I, no file was specified.",
	CodeImportM2ICouldNotOpenFile:      "Error: Failed to import M2I, could not open file.",
	CodeImportM2IFileCorrupt:           "Error: Failed to import M2I, file is corrupt.",
	CodeImportM2IUnsupportedVersion:    "Error: Failed to import M2I, format version is not supported.",
	CodeImportM2ITooManyVertices:       "Error: Failed to import M2I, model has too many vertices.",
	CodeImportM2ISkinHasTooManyIndices: "Error: Failed to import M2I, skin has too many indices.",

	CodeSaveM2NoFileSpecified:        "Error: Failed to save M2, no file was specified.",
	CodeSaveM2CouldNotOpenFile:       "Error: Failed to save M2, could not open file.",
	CodeSaveSkinCouldNotOpenFile:     "Error: Failed to save SKIN, could not open file.",
	CodeSaveSkeletonCouldNotOpenFile: "Error: Failed to save skeleton, could not open file.",

	CodeReplaceM2CouldNotOpenFile: "Error: Failed to load replacement M2, could not open file.",
	CodeReplaceM2FileCorrupt:      "Error: Failed to load replacement M2, file is corrupt.",

	CodeRuleInvalidConvention: "Error: Normalization rule has an unknown convention.",
	CodeRuleInvalidData:       "Error: Normalization rule data is invalid.",

	CodeHostFailure: "Error: Engine host is not responding.",
}

// OK reports whether c is CodeOK.
func (c Code) OK() bool {
	return c == CodeOK
}

// Valid reports whether c is a known code.
func (c Code) Valid() bool {
	return c >= CodeOK && c < codeEnd
}

// Text returns the user-facing message for c.
func (c Code) Text() string {
	if c.Valid() {
		return codeText[c]
	}
	return "Error: Unknown error."
}

// String returns a short identifier for logs.
func (c Code) String() string {
	if c.Valid() {
		return fmt.Sprintf("code(%d)", int32(c))
	}
	return fmt.Sprintf("Unknown(%d)", int32(c))
}

// Codes returns every defined code.
func Codes() []Code {
	out := make([]Code, 0, int(codeEnd))
	for c := CodeOK; c < codeEnd; c++ {
		out = append(out, c)
	}
	return out
}
