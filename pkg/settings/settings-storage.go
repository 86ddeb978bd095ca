package settings

type StorageType string

const (
	StorageTypeMemory StorageType = "memory"
	StorageTypeFile   StorageType = "file"
	StorageTypeBadger StorageType = "badger"
)

type StorageSettings struct {
	Type StorageType `yaml:"type" validate:"required,oneof=memory file badger"`
	// Path is the directory used by the file and badger stores.
	Path string `yaml:"path,omitempty" validate:"required_unless=Type memory"`
}

func NewStorageSettings() *StorageSettings {
	return &StorageSettings{Type: StorageTypeMemory}
}

func (s *StorageSettings) Validate() error {
	return validateStruct(s)
}
