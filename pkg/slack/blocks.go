package slack

import slackapi "github.com/slack-go/slack"

// Block Kit values are the slack-go types; the helpers below fix the
// defaults the modals share.
type (
	View   = slackapi.ModalViewRequest
	Block  = slackapi.Block
	Option = slackapi.OptionBlockObject
	Text   = slackapi.TextBlockObject
)

func PlainText(s string) *Text {
	return slackapi.NewTextBlockObject(slackapi.PlainTextType, s, true, false)
}

func Markdown(s string) *Text {
	return slackapi.NewTextBlockObject(slackapi.MarkdownType, s, false, false)
}

func NewOption(label, value string) *Option {
	return slackapi.NewOptionBlockObject(value, PlainText(label), nil)
}

// StaticSelect builds a static_select element. A nil initial leaves the
// placeholder visible.
func StaticSelect(actionID, placeholder string, options []*Option, initial *Option) *slackapi.SelectBlockElement {
	return slackapi.NewOptionsSelectBlockElement(slackapi.OptTypeStatic, PlainText(placeholder), actionID, options...).
		WithInitialOption(initial)
}

// Section builds a section block; accessory may be nil.
func Section(blockID string, text *Text, accessory slackapi.BlockElement) Block {
	var acc *slackapi.Accessory
	if accessory != nil {
		acc = slackapi.NewAccessory(accessory)
	}
	var opts []slackapi.SectionBlockOption
	if blockID != "" {
		opts = append(opts, slackapi.SectionBlockOptionBlockID(blockID))
	}
	return slackapi.NewSectionBlock(text, nil, acc, opts...)
}

func Divider() Block {
	return slackapi.NewDividerBlock()
}

func TextInput(blockID, label, actionID string, optional bool) Block {
	return slackapi.NewInputBlock(blockID, PlainText(label), nil,
		slackapi.NewPlainTextInputBlockElement(nil, actionID)).WithOptional(optional)
}

func URLInput(blockID, label, actionID string, optional bool) Block {
	return slackapi.NewInputBlock(blockID, PlainText(label), nil,
		slackapi.NewURLTextInputBlockElement(nil, actionID)).WithOptional(optional)
}

// Modal builds a modal view carrying meta as its private metadata.
func Modal(title, submit string, meta Metadata, blocks ...Block) (View, error) {
	raw, err := meta.Encode()
	if err != nil {
		return View{}, err
	}
	return View{
		Type:            slackapi.VTModal,
		PrivateMetadata: raw,
		Title:           PlainText(title),
		Submit:          PlainText(submit),
		Close:           PlainText("Cancel"),
		Blocks:          slackapi.Blocks{BlockSet: blocks},
	}, nil
}
