package fragment

import (
	"encoding/xml"

	"github.com/quantomatic/quanto-client/pkg/model"
)

// UserData decodes an annotation block:
//
//	<user_data><entry name="key">value</entry>...</user_data>
type UserData struct {
	rec    record
	values model.Annotations
}

// NewUserData returns a handler for one <user_data> block.
func NewUserData() *UserData {
	return &UserData{rec: newRecord("user_data")}
}

func (u *UserData) Open(name string, attrs []xml.Attr) error {
	return u.rec.open(name, attrs, func(name string, attrs []xml.Attr) error {
		if name != "entry" {
			return u.rec.skip(name, attrs)
		}
		key, ok := attr(attrs, "name")
		if !ok {
			return missing("user_data entry", "name")
		}
		if _, dup := u.values.Get(key); dup {
			return &ParseError{Kind: KindDuplicateElement, Fragment: "user_data", Element: "entry", Detail: "key " + key}
		}
		return attach[string](&u.rec.d, NewRawLeaf(), name, attrs, func(v string) error {
			u.values.Set(key, v)
			return nil
		})
	})
}

func (u *UserData) Close(name string) error {
	_, err := u.rec.close(name)
	return err
}

func (u *UserData) Text(data []byte) error { return u.rec.text(data) }

func (u *UserData) Complete() bool { return u.rec.complete() }

func (u *UserData) Result() (model.Annotations, error) {
	if !u.rec.complete() {
		return model.Annotations{}, notComplete("user_data")
	}
	return u.values.Clone(), nil
}
